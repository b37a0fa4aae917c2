package acqerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{200, KindUnknown},
		{404, KindNotFound},
		{410, KindNotFound},
		{403, KindBlocked},
		{429, KindFetchFailed},
		{500, KindFetchFailed},
		{503, KindFetchFailed},
		{401, KindConfiguration},
		{418, KindFetchFailed},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromStatus("get", "https://example.com", tt.status)
			if tt.want == KindUnknown {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.status, err.StatusCode)
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("acquire: %w", Blocked("scrape", "https://www.etsy.com/listing/1", 403, "captcha"))

	assert.True(t, errors.Is(err, ErrBlocked))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 403, StatusCode(err))
	assert.Equal(t, KindBlocked, KindOf(err))
}

func TestRetryPolicy(t *testing.T) {
	assert.False(t, KindInvalidURL.Retryable())
	assert.False(t, KindNotFound.Retryable())
	assert.False(t, KindConfiguration.Retryable())
	assert.False(t, KindInsufficientData.Retryable())
	assert.False(t, KindUnsupportedMarketplace.Retryable())
	assert.True(t, KindBlocked.Retryable())
	assert.True(t, KindFetchFailed.Retryable())
}

func TestFromTransportTimeout(t *testing.T) {
	err := FromTransport("get", "https://example.com", fmt.Errorf("do: %w", context.DeadlineExceeded))
	assert.Equal(t, KindFetchFailed, err.Kind)
	assert.True(t, err.Retryable())
	assert.Contains(t, err.Error(), "timeout")
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.False(t, IsRetryable(nil))
}

func TestAttemptStatus(t *testing.T) {
	assert.Equal(t, "success", AttemptStatus(nil))
	assert.Equal(t, "blocked", AttemptStatus(Blocked("op", "u", 403, "")))
	assert.Equal(t, "not_found", AttemptStatus(NotFound("op", "u", 404)))
	assert.Equal(t, "error", AttemptStatus(FetchFailed("op", "u", 500, nil)))
	assert.Equal(t, "error", AttemptStatus(errors.New("plain")))
}
