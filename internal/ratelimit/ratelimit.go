// Package ratelimit throttles a WebSocket connection's read and write
// throughput using independent token buckets, so one slow or abusive
// peer can't monopolize the process's network or CPU budget.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter throttles bytes moved in each direction of a connection
// independently. A zero rate in either direction disables throttling
// for that direction.
type Limiter struct {
	read  *rate.Limiter
	write *rate.Limiter
}

// New builds a Limiter. readBytesPerSec and writeBytesPerSec are
// steady-state rates; readBurst and writeBurst each allow short spikes
// above their direction's rate (typically a small multiple of a
// single frame's expected size), independently of one another. A
// non-positive rate disables the limiter for that direction.
func New(readBytesPerSec, readBurst, writeBytesPerSec, writeBurst int) *Limiter {
	l := &Limiter{}
	if readBytesPerSec > 0 {
		l.read = rate.NewLimiter(rate.Limit(readBytesPerSec), burstOrAtLeast(readBurst, readBytesPerSec))
	}
	if writeBytesPerSec > 0 {
		l.write = rate.NewLimiter(rate.Limit(writeBytesPerSec), burstOrAtLeast(writeBurst, writeBytesPerSec))
	}
	return l
}

func burstOrAtLeast(burst, rate int) int {
	if burst > 0 {
		return burst
	}
	return rate
}

// WaitRead blocks until n bytes may be read, or ctx is done.
func (l *Limiter) WaitRead(ctx context.Context, n int) error {
	return wait(ctx, l.read, n)
}

// WaitWrite blocks until n bytes may be written, or ctx is done.
func (l *Limiter) WaitWrite(ctx context.Context, n int) error {
	return wait(ctx, l.write, n)
}

func wait(ctx context.Context, lim *rate.Limiter, n int) error {
	if lim == nil || n <= 0 {
		return nil
	}
	// WaitN rejects requests larger than the bucket's burst size
	// outright instead of blocking, so split oversized requests (a
	// single jumbo frame payload, say) into burst-sized slices.
	burst := lim.Burst()
	for n > 0 {
		chunk := n
		if burst > 0 && chunk > burst {
			chunk = burst
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		n -= chunk
	}
	return nil
}
