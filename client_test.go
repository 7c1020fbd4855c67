package muralgen

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/muralgen/muralgen/config"
	"github.com/muralgen/muralgen/generr"
	"github.com/muralgen/muralgen/internal/clock"
)

// countingServer records how many requests hit each path.
type countingServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	calls map[string]int
}

func (s *countingServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func newCountingServer(t *testing.T, handler http.HandlerFunc) *countingServer {
	t.Helper()
	cs := &countingServer{calls: make(map[string]int)}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.calls[r.URL.Path]++
		cs.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

// newTestClient wires a Client against the test server with windows and
// backoff shrunk so real time passes quickly.
func newTestClient(t *testing.T, cs *countingServer) *Client {
	t.Helper()
	cfg, err := config.New(
		config.WithLogger(zap.NewNop()),
		config.WithAPIKey("test-key"),
		config.WithBaseURL(cs.srv.URL),
		config.WithRetry(config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Jitter: 0}),
		config.WithWindows(config.WindowConfig{Image: time.Millisecond, Text: time.Millisecond, Default: time.Millisecond}),
	)
	require.NoError(t, err)

	c, err := newClient(context.Background(), cfg, clock.Real(), cs.srv.Client())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestGenerateImageConcurrentDedup(t *testing.T) {
	release := make(chan struct{})
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("image-bytes"))
	})
	c := newTestClient(t, cs)
	ctx := context.Background()

	type result struct {
		data []byte
		err  error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			data, err := c.GenerateImage(ctx, "mountain dawn", 1170, 2532, ImageOptions{Seed: 42})
			results <- result{data, err}
		}()
	}

	// Give the second caller time to attach to the in-flight request, then
	// let the server answer.
	require.Eventually(t, func() bool { return cs.count("/v1/images") == 1 }, time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, []byte("image-bytes"), r.data)
	}
	assert.Equal(t, 1, cs.count("/v1/images"), "identical concurrent calls share one dispatch")

	// Image results are never stored: a repeat call dispatches again.
	_, err := c.GenerateImage(ctx, "mountain dawn", 1170, 2532, ImageOptions{Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, 2, cs.count("/v1/images"))
}

func TestGenerateImageValidation(t *testing.T) {
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	})
	c := newTestClient(t, cs)
	ctx := context.Background()

	_, err := c.GenerateImage(ctx, "", 1170, 2532, ImageOptions{})
	assert.ErrorIs(t, err, generr.ErrValidation)

	_, err = c.GenerateImage(ctx, "x", 0, 2532, ImageOptions{})
	assert.ErrorIs(t, err, generr.ErrValidation)

	_, err = c.GenerateImage(ctx, "x", 1170, 100000, ImageOptions{})
	assert.ErrorIs(t, err, generr.ErrValidation)

	assert.Equal(t, 0, cs.count("/v1/images"), "validation failures never reach the wire")
}

func TestGenerateImageRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	failures := 2
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := failures > 0
		if fail {
			failures--
		}
		mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("image-bytes"))
	})
	c := newTestClient(t, cs)

	data, err := c.GenerateImage(context.Background(), "mountain dawn", 1170, 2532, ImageOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)
	assert.Equal(t, 3, cs.count("/v1/images"))
}

func TestGenerateImageExhaustsRetryBudget(t *testing.T) {
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(t, cs)

	_, err := c.GenerateImage(context.Background(), "mountain dawn", 1170, 2532, ImageOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, generr.ErrServer)
	assert.Equal(t, 3, cs.count("/v1/images"), "every attempt in the budget is used, then the error surfaces")
}

func TestGenerateImageClientErrorIsFatal(t *testing.T) {
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	c := newTestClient(t, cs)

	_, err := c.GenerateImage(context.Background(), "mountain dawn", 1170, 2532, ImageOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, generr.ErrClient)
	assert.Equal(t, 1, cs.count("/v1/images"), "a 4xx is not retried")
}

func TestGenerateImageAsyncCancel(t *testing.T) {
	started := make(chan struct{})
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background connection
		// read; without it r.Context() is never cancelled when the client
		// aborts, and the handler (and Server.Close) would hang forever.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	})
	c := newTestClient(t, cs)

	g := c.GenerateImageAsync(context.Background(), "mountain dawn", 1170, 2532, ImageOptions{})
	<-started
	g.Cancel()

	_, err := g.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, generr.ErrCancelled)
}

func TestComposePromptCached(t *testing.T) {
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "a serene alpine vista at dawn"})
	})
	c := newTestClient(t, cs)
	ctx := context.Background()

	first, err := c.ComposeVariantPrompt(ctx, "mountain dawn")
	require.NoError(t, err)
	assert.Equal(t, "a serene alpine vista at dawn", first)

	second, err := c.ComposeVariantPrompt(ctx, "mountain dawn")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cs.count("/v1/text"), "a repeated compose is served from cache")

	// A different base prompt is a different request.
	_, err = c.ComposeVariantPrompt(ctx, "city night")
	require.NoError(t, err)
	assert.Equal(t, 2, cs.count("/v1/text"))
}

func TestComposePromptForDevice(t *testing.T) {
	var gotReq struct {
		Prompt string `json:"prompt"`
	}
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]string{"text": "composed"})
	})
	c := newTestClient(t, cs)

	device := Device{Name: "phone", Width: 1170, Height: 2532}
	prefs := StylePreferences{Styles: []string{"minimal"}, Palette: "muted blues", Mood: "calm"}
	text, err := c.ComposePromptForDevice(context.Background(), device, prefs)
	require.NoError(t, err)
	assert.Equal(t, "composed", text)
	assert.Contains(t, gotReq.Prompt, "1170x2532")
	assert.Contains(t, gotReq.Prompt, "minimal")
	assert.Contains(t, gotReq.Prompt, "muted blues")

	_, err = c.ComposePromptForDevice(context.Background(), Device{}, prefs)
	assert.ErrorIs(t, err, generr.ErrValidation)
}

func TestComposeRestyleValidation(t *testing.T) {
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "restyled"})
	})
	c := newTestClient(t, cs)

	_, err := c.ComposeRestylePrompt(context.Background(), "mountain dawn", "")
	assert.ErrorIs(t, err, generr.ErrValidation)

	text, err := c.ComposeRestylePrompt(context.Background(), "mountain dawn", "watercolor")
	require.NoError(t, err)
	assert.Equal(t, "restyled", text)
}

func TestListModelsCached(t *testing.T) {
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"id":"sd-xl","kind":"image"}]}`))
	})
	c := newTestClient(t, cs)
	ctx := context.Background()

	models, err := c.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "sd-xl", models[0].ID)

	_, err = c.ListModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cs.count("/v1/models"))
}

func TestClearCacheForcesRefetch(t *testing.T) {
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "composed"})
	})
	c := newTestClient(t, cs)
	ctx := context.Background()

	_, err := c.ComposeVariantPrompt(ctx, "mountain dawn")
	require.NoError(t, err)
	c.ClearCache(ctx)

	_, err = c.ComposeVariantPrompt(ctx, "mountain dawn")
	require.NoError(t, err)
	assert.Equal(t, 2, cs.count("/v1/text"))
}

func TestInvalidateCachePattern(t *testing.T) {
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "composed"})
	})
	c := newTestClient(t, cs)
	ctx := context.Background()

	_, err := c.ComposeVariantPrompt(ctx, "mountain dawn")
	require.NoError(t, err)

	removed, err := c.InvalidateCachePattern(ctx, "^compose_variant_prompt:")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = c.InvalidateCachePattern(ctx, "([")
	assert.ErrorIs(t, err, generr.ErrValidation)
}

func TestMetricsSnapshot(t *testing.T) {
	cs := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "composed"})
	})
	c := newTestClient(t, cs)
	ctx := context.Background()

	_, err := c.ComposeVariantPrompt(ctx, "mountain dawn")
	require.NoError(t, err)
	_, err = c.ComposeVariantPrompt(ctx, "mountain dawn")
	require.NoError(t, err)

	snap := c.Metrics()
	assert.Equal(t, int64(1), snap.Dispatches)
	assert.Equal(t, int64(1), snap.Hits)
}

func TestNewValidatesConfig(t *testing.T) {
	cfg, err := config.New(config.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}
