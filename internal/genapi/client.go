// Package genapi is the HTTP transport for the remote generation service.
// It is the only package that knows the API's wire shape, and it translates
// every transport outcome into the generr taxonomy so the layers above
// reason about kinds, not status codes.
package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muralgen/muralgen/generr"
)

const (
	imagesPath = "/v1/images"
	textPath   = "/v1/text"
	modelsPath = "/v1/models"

	// maxResponseBytes caps a single response body read. Wallpaper-sized
	// images stay well under this.
	maxResponseBytes = 64 << 20
)

// ImageRequest is the wire shape of an image generation call.
type ImageRequest struct {
	Prompt         string  `json:"prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Model          string  `json:"model,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Guidance       float64 `json:"guidance,omitempty"`
}

// TextRequest is the wire shape of a text generation call.
type TextRequest struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type textResponse struct {
	Text string `json:"text"`
}

// ModelInfo describes one model from the listing endpoint.
type ModelInfo struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

// Client calls the generation service. The API key is injected at
// construction and never leaves this package.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	logger     *zap.Logger
}

// New creates a transport client. httpClient may be nil to use a default.
func New(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    timeout,
		logger:     logger,
	}
}

// GenerateImage returns raw image bytes for the request.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	return c.do(ctx, http.MethodPost, imagesPath, req)
}

// GenerateText returns the generated text for the request.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	body, err := c.do(ctx, http.MethodPost, textPath, req)
	if err != nil {
		return "", err
	}
	var tr textResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", generr.Newf(generr.KindUnknown, "", "malformed text response: %v", err)
	}
	return tr.Text, nil
}

// ListModels returns the raw JSON model listing; the bytes are what gets
// cached, decode with ParseModels.
func (c *Client) ListModels(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, modelsPath, nil)
}

// ParseModels decodes a ListModels payload.
func ParseModels(data []byte) ([]ModelInfo, error) {
	var listing struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("malformed model listing: %w", err)
	}
	return listing.Models, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	// Each dispatched unit of work carries its own timeout; the queue has
	// no visibility into the call beyond its outcome.
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, generr.New(generr.KindUnknown, "", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return nil, generr.New(generr.KindUnknown, "", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, generr.New(generr.KindCancelled, "", err)
		}
		// Includes the per-request timeout: a timed-out call is a
		// transport failure and retryable.
		return nil, generr.New(generr.KindNetwork, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, generr.New(generr.KindNetwork, "", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &generr.Error{
			Kind:       generr.KindRateLimit,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("rate limited by server"),
		}
	case resp.StatusCode >= 500:
		return nil, &generr.Error{
			Kind:       generr.KindServer,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server error: %s", trimBody(data)),
		}
	default:
		return nil, &generr.Error{
			Kind:       generr.KindClient,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("request rejected: %s", trimBody(data)),
		}
	}
}

// parseRetryAfter handles both forms of the header: delay seconds and an
// HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func trimBody(data []byte) string {
	const maxLen = 256
	if len(data) > maxLen {
		data = data[:maxLen]
	}
	// The cut can land mid-rune; drop the partial sequence rather than
	// carry invalid UTF-8 into the error message.
	return strings.ToValidUTF8(string(bytes.TrimSpace(data)), "")
}
