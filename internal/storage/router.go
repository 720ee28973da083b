package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/linkdrop/internal/logging"
	"github.com/fruitsalade/linkdrop/internal/retry"
)

// Router resolves which backend serves each bucket context and performs
// blob copies between them.
type Router struct {
	mu       sync.RWMutex
	backends map[BucketContext]Backend
	retry    retry.Config
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRetry overrides the retry policy for transient backend errors.
func WithRetry(cfg retry.Config) RouterOption {
	return func(r *Router) { r.retry = cfg }
}

// NewRouter creates a Router. Both Shared and Workspace must be served;
// they may share one backend.
func NewRouter(backends map[BucketContext]Backend, opts ...RouterOption) (*Router, error) {
	r := &Router{
		backends: make(map[BucketContext]Backend, len(backends)),
		retry:    retry.DefaultConfig(),
	}
	for _, bc := range []BucketContext{Shared, Workspace} {
		b, ok := backends[bc]
		if !ok || b == nil {
			return nil, fmt.Errorf("no storage backend for bucket context %q", bc)
		}
		r.backends[bc] = b
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry.OnRetry == nil {
		r.retry.OnRetry = func(attempt int, wait time.Duration, err error) {
			logging.Warn("retrying storage operation",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
	}

	logging.Info("storage router ready",
		zap.String("shared", r.backends[Shared].Type()),
		zap.String("workspace", r.backends[Workspace].Type()))
	return r, nil
}

// Backend returns the backend serving a bucket context.
func (r *Router) Backend(bc BucketContext) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[bc]
	if !ok {
		return nil, fmt.Errorf("unknown bucket context %q", bc)
	}
	return b, nil
}

// CopyBlob copies srcKey in srcCtx to dstKey in dstCtx and returns dstKey.
// Within one backend the copy is delegated to the backend; between buckets of
// the same S3 endpoint a server-side copy is used; otherwise the object is
// streamed. Transient failures are retried.
func (r *Router) CopyBlob(ctx context.Context, srcKey, dstKey string, srcCtx, dstCtx BucketContext) (string, error) {
	if err := ValidateKey(srcKey); err != nil {
		return "", err
	}
	if err := ValidateKey(dstKey); err != nil {
		return "", err
	}
	src, err := r.Backend(srcCtx)
	if err != nil {
		return "", err
	}
	dst, err := r.Backend(dstCtx)
	if err != nil {
		return "", err
	}

	err = r.do(ctx, func() error { return copyBetween(ctx, src, dst, srcKey, dstKey) })
	if err != nil {
		return "", fmt.Errorf("copy %s:%s -> %s:%s: %w", srcCtx, srcKey, dstCtx, dstKey, err)
	}

	logging.Debug("copied blob",
		zap.String("src", srcKey),
		zap.String("dst", dstKey),
		zap.String("src_ctx", string(srcCtx)),
		zap.String("dst_ctx", string(dstCtx)))
	return dstKey, nil
}

// DeleteBlob removes key from a bucket context.
func (r *Router) DeleteBlob(ctx context.Context, key string, bc BucketContext) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	b, err := r.Backend(bc)
	if err != nil {
		return err
	}
	if err := r.do(ctx, func() error { return b.DeleteObject(ctx, key) }); err != nil {
		return fmt.Errorf("delete %s:%s: %w", bc, key, err)
	}
	return nil
}

// PutBlob uploads body to key in a bucket context.
func (r *Router) PutBlob(ctx context.Context, key string, body io.Reader, size int64, bc BucketContext) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	b, err := r.Backend(bc)
	if err != nil {
		return err
	}
	// The body can only be read once, so uploads are not retried.
	if err := b.PutObject(ctx, key, body, size); err != nil {
		return fmt.Errorf("put %s:%s: %w", bc, key, err)
	}
	return nil
}

// OpenBlob opens key in a bucket context for reading.
func (r *Router) OpenBlob(ctx context.Context, key string, bc BucketContext) (io.ReadCloser, int64, error) {
	if err := ValidateKey(key); err != nil {
		return nil, 0, err
	}
	b, err := r.Backend(bc)
	if err != nil {
		return nil, 0, err
	}
	return b.GetObject(ctx, key)
}

// do runs fn with the router's retry policy. Errors for missing objects or
// invalid keys are permanent.
func (r *Router) do(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, r.retry, func() error {
		err := fn()
		if err == nil || errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrInvalidKey) || ctx.Err() != nil {
			return err
		}
		return retry.Retryable(err)
	})
}

func copyBetween(ctx context.Context, src, dst Backend, srcKey, dstKey string) error {
	if src == dst {
		return dst.CopyObject(ctx, srcKey, dstKey)
	}
	sb, srcOK := src.(BucketCopier)
	db, dstOK := dst.(BucketCopier)
	if srcOK && dstOK && sb.Endpoint() == db.Endpoint() {
		return db.CopyFromBucket(ctx, sb.Bucket(), srcKey, dstKey)
	}

	body, size, err := src.GetObject(ctx, srcKey)
	if err != nil {
		return err
	}
	defer body.Close()
	return dst.PutObject(ctx, dstKey, body, size)
}

// Close closes all backend connections.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed := make(map[Backend]bool)
	var errs []error
	for _, b := range r.backends {
		if closed[b] {
			continue
		}
		closed[b] = true
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
