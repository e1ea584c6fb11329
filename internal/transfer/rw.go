package transfer

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

type ReadCallback func(n int64)
type ReaderOption func(*Reader)

func WithLimiter(limiter *rate.Limiter) ReaderOption {
	return func(r *Reader) {
		r.limiter = limiter
	}
}

func WithCallback(callback ReadCallback) ReaderOption {
	return func(r *Reader) {
		r.callback = callback
	}
}

// Reader wraps an io.Reader with context cancellation, byte-rate limiting
// and a per-read callback.
//
// If a callback is provided it is triggered after each read. This is a hot
// path, so don't block in the callback.
type Reader struct {
	ctx      context.Context
	inner    io.Reader
	limiter  *rate.Limiter
	callback ReadCallback
}

// NewReader wraps inner.
func NewReader(ctx context.Context, inner io.Reader, opts ...ReaderOption) *Reader {
	r := &Reader{
		ctx:     ctx,
		inner:   inner,
		limiter: DefaultRateLimiter(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
		if r.limiter != nil {
			if err := r.limiter.WaitN(r.ctx, len(p)); err != nil {
				return 0, err
			}
		}
		n, err := r.inner.Read(p)
		if n > 0 && r.callback != nil {
			r.callback(int64(n))
		}
		return n, err
	}
}
