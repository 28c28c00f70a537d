package objectstore

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barqdb/barq/internal/errors"
)

type flakyStore struct {
	Store
	failuresBeforeSuccess int32
	attempts              int32
	failWith              error
}

func (f *flakyStore) UploadFile(localPath, key string) error {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= f.failuresBeforeSuccess {
		if f.failWith != nil {
			return f.failWith
		}
		return fmt.Errorf("temporarily unavailable")
	}
	return nil
}

func fastRetryConfig() errors.RetryConfig {
	return errors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestRetryingStore_SucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyStore{failuresBeforeSuccess: 2}
	store := NewRetryingStoreWithConfig(inner, fastRetryConfig())

	err := store.UploadFile("local", "key")
	require.NoError(t, err)
	assert.EqualValues(t, 3, inner.attempts)
}

func TestRetryingStore_NonRetryableError_FailsImmediately(t *testing.T) {
	inner := &flakyStore{failuresBeforeSuccess: 10, failWith: ErrNotFound}
	store := NewRetryingStoreWithConfig(inner, fastRetryConfig())

	err := store.UploadFile("local", "key")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 1, inner.attempts)
}

func TestRetryingStore_ExhaustsRetries_ReturnsLastError(t *testing.T) {
	inner := &flakyStore{failuresBeforeSuccess: 100}
	cfg := fastRetryConfig()
	store := NewRetryingStoreWithConfig(inner, cfg)

	err := store.UploadFile("local", "key")
	require.Error(t, err)
	assert.EqualValues(t, cfg.MaxRetries+1, inner.attempts)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(fmt.Errorf("request timeout")))
	assert.True(t, isRetryable(fmt.Errorf("rate limit exceeded")))
	assert.True(t, isRetryable(fmt.Errorf("503 service unavailable")))
	assert.False(t, isRetryable(ErrNotFound))
	assert.False(t, isRetryable(nil))
}

func TestRetryingStore_DelegatesTypeAndInner(t *testing.T) {
	inner, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := NewRetryingStore(inner)

	assert.Equal(t, "local", store.Type())
	assert.Same(t, inner, store.Inner())
}
