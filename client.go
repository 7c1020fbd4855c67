package muralgen

import (
	"context"
	"regexp"

	"go.uber.org/atomic"

	"github.com/muralgen/muralgen/generr"
	"github.com/muralgen/muralgen/internal/genapi"
	"github.com/muralgen/muralgen/internal/queue"
)

// Operation names used in cache keys and error context.
const (
	opGenerateImage  = "generate_image"
	opComposeDevice  = "compose_device_prompt"
	opComposeVariant = "compose_variant_prompt"
	opComposeRestyle = "compose_restyle_prompt"
	opListModels     = "list_models"
)

const (
	minDimension = 16
	maxDimension = 8192
	maxPromptLen = 4096
)

// ImageOptions tunes a single image generation. OnStatus is cosmetic and
// excluded from the cache key.
type ImageOptions struct {
	Model          string
	Seed           int64
	NegativePrompt string
	Guidance       float64
	OnStatus       func(GenStatus)
}

// GenerateImage produces wallpaper image bytes for the prompt. Identical
// concurrent calls share one dispatch; results are not stored (each
// prompt+seed combination is typically unique and large), so a repeat call
// after settlement dispatches again.
//
// ctx is the cancellation token: cancelling it withdraws this caller, and
// the underlying request is aborted once no caller remains attached.
func (c *Client) GenerateImage(ctx context.Context, prompt string, width, height int, opts ImageOptions) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "Client.GenerateImage")
	defer span.End()

	if err := validatePrompt(opGenerateImage, prompt); err != nil {
		return nil, err
	}
	if err := validateDimensions(opGenerateImage, width, height); err != nil {
		return nil, err
	}

	key := requestKey(opGenerateImage, map[string]any{
		"prompt":          prompt,
		"width":           width,
		"height":          height,
		"model":           opts.Model,
		"seed":            opts.Seed,
		"negative_prompt": opts.NegativePrompt,
		"guidance":        opts.Guidance,
	})
	req := genapi.ImageRequest{
		Prompt:         prompt,
		Width:          width,
		Height:         height,
		Model:          opts.Model,
		Seed:           opts.Seed,
		NegativePrompt: opts.NegativePrompt,
		Guidance:       opts.Guidance,
	}

	data, err := c.cache.Execute(ctx, key, 0, func(runCtx context.Context) ([]byte, error) {
		var enqOpts []queue.EnqueueOption
		if opts.OnStatus != nil {
			enqOpts = append(enqOpts, queue.WithStatusFunc(opts.OnStatus))
		}
		return c.queue.Enqueue(runCtx, queue.ClassImage, func(rc context.Context) ([]byte, error) {
			return c.api.GenerateImage(rc, req)
		}, enqOpts...).Wait(runCtx)
	})
	if err != nil {
		return nil, generr.WithOp(opGenerateImage, err)
	}
	return data, nil
}

// Generation is an in-progress asynchronous image generation.
type Generation struct {
	done   chan struct{}
	data   []byte
	err    error
	cancel context.CancelFunc
	status *atomic.Int32
}

// Wait blocks until the generation settles or ctx is done.
func (g *Generation) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-g.done:
		return g.data, g.err
	case <-ctx.Done():
		return nil, generr.New(generr.KindCancelled, opGenerateImage, ctx.Err())
	}
}

// Cancel withdraws this generation.
func (g *Generation) Cancel() { g.cancel() }

// Status reports the latest observed dispatch status.
func (g *Generation) Status() GenStatus { return GenStatus(g.status.Load()) }

// GenerateImageAsync starts an image generation and returns a handle with
// an explicit Cancel, for callers that cannot model cancellation as a
// context (a UI holding a "stop" button).
func (c *Client) GenerateImageAsync(ctx context.Context, prompt string, width, height int, opts ImageOptions) *Generation {
	genCtx, cancel := context.WithCancel(ctx)
	g := &Generation{
		done:   make(chan struct{}),
		cancel: cancel,
		status: atomic.NewInt32(int32(StatusQueued)),
	}

	inner := opts.OnStatus
	opts.OnStatus = func(s GenStatus) {
		g.status.Store(int32(s))
		if inner != nil {
			inner(s)
		}
	}

	go func() {
		defer cancel()
		g.data, g.err = c.GenerateImage(genCtx, prompt, width, height, opts)
		close(g.done)
	}()
	return g
}

// ComposePromptForDevice asks the text model for an image prompt tailored
// to a device and the user's style preferences. Results are cached briefly.
func (c *Client) ComposePromptForDevice(ctx context.Context, device Device, prefs StylePreferences) (string, error) {
	ctx, span := c.tracer.Start(ctx, "Client.ComposePromptForDevice")
	defer span.End()

	if device.Name == "" {
		return "", generr.Newf(generr.KindValidation, opComposeDevice, "device name must not be empty")
	}
	if err := validateDimensions(opComposeDevice, device.Width, device.Height); err != nil {
		return "", err
	}

	key := requestKey(opComposeDevice, map[string]any{
		"device": device,
		"prefs":  prefs,
	})
	return c.composeText(ctx, opComposeDevice, key, devicePrompt(device, prefs))
}

// ComposeVariantPrompt rewrites a prompt as a fresh variation of itself.
func (c *Client) ComposeVariantPrompt(ctx context.Context, basePrompt string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "Client.ComposeVariantPrompt")
	defer span.End()

	if err := validatePrompt(opComposeVariant, basePrompt); err != nil {
		return "", err
	}

	key := requestKey(opComposeVariant, map[string]any{"base": basePrompt})
	return c.composeText(ctx, opComposeVariant, key, variantPrompt(basePrompt))
}

// ComposeRestylePrompt rewrites a prompt under a new style directive.
func (c *Client) ComposeRestylePrompt(ctx context.Context, basePrompt, styleDirective string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "Client.ComposeRestylePrompt")
	defer span.End()

	if err := validatePrompt(opComposeRestyle, basePrompt); err != nil {
		return "", err
	}
	if styleDirective == "" {
		return "", generr.Newf(generr.KindValidation, opComposeRestyle, "style directive must not be empty")
	}

	key := requestKey(opComposeRestyle, map[string]any{
		"base":  basePrompt,
		"style": styleDirective,
	})
	return c.composeText(ctx, opComposeRestyle, key, restylePrompt(basePrompt, styleDirective))
}

func (c *Client) composeText(ctx context.Context, op, key, prompt string) (string, error) {
	data, err := c.cache.Execute(ctx, key, c.cfg.TTL.PromptCompose, func(runCtx context.Context) ([]byte, error) {
		return c.queue.Enqueue(runCtx, queue.ClassText, func(rc context.Context) ([]byte, error) {
			text, err := c.api.GenerateText(rc, genapi.TextRequest{Prompt: prompt})
			if err != nil {
				return nil, err
			}
			return []byte(text), nil
		}).Wait(runCtx)
	})
	if err != nil {
		return "", generr.WithOp(op, err)
	}
	return string(data), nil
}

// ListModels returns the service's model listing, cached long-term.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, span := c.tracer.Start(ctx, "Client.ListModels")
	defer span.End()

	key := requestKey(opListModels, nil)
	data, err := c.cache.Execute(ctx, key, c.cfg.TTL.ModelListing, func(runCtx context.Context) ([]byte, error) {
		return c.queue.Enqueue(runCtx, queue.ClassText, func(rc context.Context) ([]byte, error) {
			return c.api.ListModels(rc)
		}).Wait(runCtx)
	})
	if err != nil {
		return nil, generr.WithOp(opListModels, err)
	}

	listing, err := genapi.ParseModels(data)
	if err != nil {
		return nil, generr.New(generr.KindUnknown, opListModels, err)
	}
	return listing, nil
}

// InvalidateCache drops one cached entry.
func (c *Client) InvalidateCache(ctx context.Context, key string) {
	c.cache.Invalidate(ctx, key)
}

// InvalidateCachePattern drops every cached entry whose key matches expr.
func (c *Client) InvalidateCachePattern(ctx context.Context, expr string) (int, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return 0, generr.Newf(generr.KindValidation, "invalidate_cache", "invalid pattern %q: %v", expr, err)
	}
	return c.cache.InvalidatePattern(ctx, re), nil
}

// ClearCache drops all cached entries.
func (c *Client) ClearCache(ctx context.Context) {
	c.cache.Clear(ctx)
}

// CleanupCache sweeps expired entries and reports how many were removed.
func (c *Client) CleanupCache(ctx context.Context) int {
	return c.cache.Cleanup(ctx)
}

func validatePrompt(op, prompt string) error {
	if prompt == "" {
		return generr.Newf(generr.KindValidation, op, "prompt must not be empty")
	}
	if len(prompt) > maxPromptLen {
		return generr.Newf(generr.KindValidation, op, "prompt exceeds %d characters", maxPromptLen)
	}
	return nil
}

func validateDimensions(op string, width, height int) error {
	if width < minDimension || width > maxDimension || height < minDimension || height > maxDimension {
		return generr.Newf(generr.KindValidation, op, "dimensions %dx%d outside supported range %d-%d", width, height, minDimension, maxDimension)
	}
	return nil
}
