// Package dispatch implements the token bucket (C4), pending-call queue
// (C5) and dispatcher pool (C6) that together gate and fan out concurrent
// invocations, grounded directly on the teacher's limiter package: the
// token bucket is the same buffered-channel-as-semaphore idiom as
// MaxInFlight.tokenBucket, generalized from "jobs in the cluster" to
// "in-flight function calls".
package dispatch

import "context"

// TokenBucket is a buffered-channel semaphore: one token per call allowed
// to be in flight at once. The zero value is not usable; build one with
// NewTokenBucket.
type TokenBucket struct {
	tokens chan struct{}
}

// NewTokenBucket returns a bucket filled with capacity tokens.
func NewTokenBucket(capacity int) *TokenBucket {
	b := &TokenBucket{tokens: make(chan struct{}, capacity)}
	for range capacity {
		b.tokens <- struct{}{}
	}
	return b
}

// Take blocks until a token is available or ctx is done.
func (b *TokenBucket) Take(ctx context.Context) error {
	select {
	case <-b.tokens:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// TryTake takes a token without blocking, reporting whether one was
// available.
func (b *TokenBucket) TryTake() bool {
	select {
	case <-b.tokens:
		return true
	default:
		return false
	}
}

// TryPut returns a token to the bucket without blocking, reporting
// whether there was room — mirrors the teacher's tryReturnToken, which
// silently drops a return on an already-full bucket rather than blocking
// or erroring. Puts into a full bucket do happen: the monitor mints one
// token per finished call, including direct-burst calls that never took
// a token.
func (b *TokenBucket) TryPut() bool {
	select {
	case b.tokens <- struct{}{}:
		return true
	default:
		return false
	}
}

// Len reports the number of tokens currently available, used to drive a
// GaugeFunc the same way the teacher's tokensAvailableFunc does.
func (b *TokenBucket) Len() int {
	return len(b.tokens)
}

// Drain removes every currently-available token without blocking,
// returning how many were removed. Used before a fresh run to discard
// stale tokens left over from a prior, now-irrelevant dispatch (spec.md
// §4.3's stale-token drain).
func (b *TokenBucket) Drain() int {
	n := 0
	for b.TryTake() {
		n++
	}
	return n
}
