package objectstore

import (
	"context"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/barqdb/barq/internal/errors"
)

// isRetryable reports whether err likely reflects a transient
// condition worth retrying. Missing objects and permission failures
// never become true on retry, so they are excluded.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsNotExist(err) || os.IsPermission(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "rate limit", "throttl", "temporarily", "try again", "service unavailable", "connection reset", "connection aborted"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	// Unclassified I/O failures against a local disk (permission and
	// not-exist handled above) are treated as transient: full disks and
	// momentary locked files are the common case.
	return true
}

func withRetry(ctx context.Context, cfg errors.RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= cfg.MaxRetries || !isRetryable(err) {
			return lastErr
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(delay) * (1.0 + rand.Float64()*0.25))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}

// RetryingStore wraps a Store with exponential-backoff retry around
// every operation, skipping retry for errors that will never resolve
// on their own (missing objects, permission denied).
type RetryingStore struct {
	inner Store
	cfg   errors.RetryConfig
	ctx   context.Context
}

// NewRetryingStore wraps inner with errors.DefaultRetryConfig.
func NewRetryingStore(inner Store) *RetryingStore {
	return NewRetryingStoreWithConfig(inner, errors.DefaultRetryConfig())
}

// NewRetryingStoreWithConfig wraps inner with a custom retry config.
func NewRetryingStoreWithConfig(inner Store, cfg errors.RetryConfig) *RetryingStore {
	return &RetryingStore{inner: inner, cfg: cfg, ctx: context.Background()}
}

// Inner returns the wrapped store.
func (r *RetryingStore) Inner() Store { return r.inner }

func (r *RetryingStore) UploadFile(localPath, key string) error {
	return withRetry(r.ctx, r.cfg, func() error { return r.inner.UploadFile(localPath, key) })
}

func (r *RetryingStore) DownloadFile(key, localPath string) error {
	return withRetry(r.ctx, r.cfg, func() error { return r.inner.DownloadFile(key, localPath) })
}

func (r *RetryingStore) UploadDir(localDir, remotePrefix string) error {
	return withRetry(r.ctx, r.cfg, func() error { return r.inner.UploadDir(localDir, remotePrefix) })
}

func (r *RetryingStore) DownloadDir(remotePrefix, localDir string) error {
	return withRetry(r.ctx, r.cfg, func() error { return r.inner.DownloadDir(remotePrefix, localDir) })
}

func (r *RetryingStore) Delete(key string) error {
	return withRetry(r.ctx, r.cfg, func() error { return r.inner.Delete(key) })
}

func (r *RetryingStore) Exists(key string) (bool, error) {
	var result bool
	err := withRetry(r.ctx, r.cfg, func() error {
		var innerErr error
		result, innerErr = r.inner.Exists(key)
		return innerErr
	})
	return result, err
}

func (r *RetryingStore) GetMetadata(key string) (Metadata, error) {
	var result Metadata
	err := withRetry(r.ctx, r.cfg, func() error {
		var innerErr error
		result, innerErr = r.inner.GetMetadata(key)
		return innerErr
	})
	return result, err
}

func (r *RetryingStore) List(prefix string) ([]string, error) {
	var result []string
	err := withRetry(r.ctx, r.cfg, func() error {
		var innerErr error
		result, innerErr = r.inner.List(prefix)
		return innerErr
	})
	return result, err
}

func (r *RetryingStore) Copy(src, dst string) error {
	return withRetry(r.ctx, r.cfg, func() error { return r.inner.Copy(src, dst) })
}

func (r *RetryingStore) Type() string { return r.inner.Type() }
