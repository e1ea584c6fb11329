package transfer

import (
	"patchsync/internal/core/types"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

const (
	DefaultRateLimit types.Bytes = 1 * humanize.GByte // 1GB/s
	DefaultRateBurst types.Bytes = 1 * humanize.MByte
)

func DefaultRateLimiter() *rate.Limiter {
	return NewRateLimiter(DefaultRateLimit, DefaultRateBurst)
}

// NewRateLimiter builds a byte-rate limiter. A zero rateLimit means
// unlimited.
func NewRateLimiter(rateLimit, rateBurst types.Bytes) *rate.Limiter {
	rateInt := rateLimit.Bytes()

	if rateInt == 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	burstSize := int(rateBurst.Bytes())

	// Keep the burst between 1 byte and a tenth of the rate.
	if burstSize > int(rateInt/10) {
		burstSize = int(rateInt / 10)
	}
	if burstSize < 1 {
		burstSize = 1
	}

	return rate.NewLimiter(rate.Limit(rateInt), burstSize)
}
