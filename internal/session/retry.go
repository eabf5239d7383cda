// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"time"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	BackoffFixed  Backoff = "fixed"
	BackoffLinear Backoff = "linear"
)

// MaxRetryAttempts bounds RetryPolicy.MaxAttempts.
const MaxRetryAttempts = 3

// RetryPolicy controls retries of transient failures. Only an unreachable
// server or a 5xx response is retried.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     Backoff
}

// DefaultRetryPolicy returns three attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: MaxRetryAttempts, Delay: time.Second, Backoff: BackoffFixed}
}

// NoRetry makes a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// attempts clamps MaxAttempts to [1, MaxRetryAttempts].
func (p RetryPolicy) attempts() int {
	switch {
	case p.MaxAttempts < 1:
		return 1
	case p.MaxAttempts > MaxRetryAttempts:
		return MaxRetryAttempts
	}
	return p.MaxAttempts
}

// delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	if p.Backoff == BackoffLinear {
		return p.Delay * time.Duration(attempt)
	}
	return p.Delay
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
