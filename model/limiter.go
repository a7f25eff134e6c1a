package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCallLimitExceeded is returned once a CallLimiter has been exhausted.
var ErrCallLimitExceeded = errors.New("model call limit exceeded")

// CallLimiter enforces a maximum number of model calls.
type CallLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallLimiter creates a limiter allowing max calls. If max <= 0, unlimited
// calls are allowed.
func NewCallLimiter(max int) *CallLimiter {
	return &CallLimiter{max: max}
}

// Increment counts a call and fails when the limit is exceeded.
func (l *CallLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("%w: %d", ErrCallLimitExceeded, l.max)
	}

	return nil
}

// Count returns the number of calls made so far.
func (l *CallLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (l *CallLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max <= 0 {
		return -1
	}
	if l.count >= l.max {
		return 0
	}
	return l.max - l.count
}

// LimitedCompleter guards a Completer with a CallLimiter. Calls over the
// limit fail without reaching the provider.
type LimitedCompleter struct {
	Completer
	limiter *CallLimiter
}

// LimitCompleter wraps c so at most max calls reach it. max <= 0 returns c.
func LimitCompleter(c Completer, max int) Completer {
	if max <= 0 {
		return c
	}
	return &LimitedCompleter{Completer: c, limiter: NewCallLimiter(max)}
}

// Complete implements Completer.
func (l *LimitedCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	if err := l.limiter.Increment(); err != nil {
		return "", err
	}
	return l.Completer.Complete(ctx, system, prompt)
}

// Limiter exposes the underlying call limiter.
func (l *LimitedCompleter) Limiter() *CallLimiter { return l.limiter }
