package generr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindServer, Op: "generate_image", StatusCode: 503, Err: errors.New("unavailable")}
	assert.Equal(t, "generate_image: server (status 503): unavailable", err.Error())

	bare := &Error{Kind: KindNetwork, Err: errors.New("dial tcp: refused")}
	assert.Equal(t, "network: dial tcp: refused", bare.Error())
}

func TestKindSentinels(t *testing.T) {
	err := New(KindRateLimit, "generate_image", errors.New("too many requests"))

	assert.True(t, errors.Is(err, ErrRateLimit))
	assert.False(t, errors.Is(err, ErrServer))

	// Matching survives wrapping.
	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, errors.Is(wrapped, ErrRateLimit))
	assert.Equal(t, KindRateLimit, KindOf(wrapped))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestRetryAfterOf(t *testing.T) {
	err := &Error{Kind: KindRateLimit, StatusCode: 429, RetryAfter: 30 * time.Second, Err: errors.New("limited")}
	assert.Equal(t, 30*time.Second, RetryAfterOf(err))
	assert.Equal(t, time.Duration(0), RetryAfterOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindNetwork, "", errors.New("x"))))
	assert.True(t, IsRetryable(New(KindRateLimit, "", errors.New("x"))))
	assert.True(t, IsRetryable(New(KindServer, "", errors.New("x"))))

	assert.False(t, IsRetryable(New(KindClient, "", errors.New("x"))))
	assert.False(t, IsRetryable(New(KindCancelled, "", errors.New("x"))))
	assert.False(t, IsRetryable(New(KindValidation, "", errors.New("x"))))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestWithOp(t *testing.T) {
	assert.NoError(t, WithOp("op", nil))

	// An untagged taxonomy error picks up the op.
	err := WithOp("list_models", &Error{Kind: KindServer, StatusCode: 500, Err: errors.New("boom")})
	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, "list_models", e.Op)
	assert.Equal(t, 500, e.StatusCode)

	// An already-tagged one is left alone.
	tagged := New(KindClient, "generate_image", errors.New("bad"))
	assert.Same(t, error(tagged), WithOp("other", tagged))

	// A non-taxonomy error is wrapped as unknown.
	plain := WithOp("op", errors.New("plain"))
	assert.Equal(t, KindUnknown, KindOf(plain))
	assert.ErrorAs(t, plain, &e)
	assert.Equal(t, "op", e.Op)
}

func TestCancelled(t *testing.T) {
	err := Cancelled("generate_image")
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, "generate_image", err.Op)
}
