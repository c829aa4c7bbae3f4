package lock

import (
	"fmt"
	"strings"
	"time"
)

type waitMode int

const (
	waitNone waitMode = iota
	waitBounded
	waitForever
)

// WaitPolicy controls how Acquire behaves while a lock is held elsewhere.
type WaitPolicy struct {
	mode    waitMode
	timeout time.Duration
}

// NoWait fails immediately when the lock is held.
func NoWait() WaitPolicy {
	return WaitPolicy{mode: waitNone}
}

// WaitUpTo retries until d has elapsed. d <= 0 is NoWait.
func WaitUpTo(d time.Duration) WaitPolicy {
	if d <= 0 {
		return NoWait()
	}
	return WaitPolicy{mode: waitBounded, timeout: d}
}

// WaitForever retries until the lock is acquired or the context is done.
func WaitForever() WaitPolicy {
	return WaitPolicy{mode: waitForever}
}

// Timeout returns the bound for WaitUpTo policies and false otherwise.
func (w WaitPolicy) Timeout() (time.Duration, bool) {
	return w.timeout, w.mode == waitBounded
}

// Forever reports whether the policy never gives up.
func (w WaitPolicy) Forever() bool {
	return w.mode == waitForever
}

func (w WaitPolicy) String() string {
	switch w.mode {
	case waitBounded:
		return w.timeout.String()
	case waitForever:
		return "forever"
	default:
		return "none"
	}
}

// ParseWait parses a wait policy.
//
//	"", "0", "none", "no-wait"  -> NoWait
//	"forever", "-1"             -> WaitForever
//	Go duration ("30s", "2m")   -> WaitUpTo
func ParseWait(s string) (WaitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "none", "no-wait", "nowait":
		return NoWait(), nil
	case "forever", "-1", "infinite":
		return WaitForever(), nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return WaitPolicy{}, fmt.Errorf("invalid wait policy %q: want none, forever or a duration", s)
	}
	if d < 0 {
		return WaitPolicy{}, fmt.Errorf("invalid wait policy %q: negative duration", s)
	}
	return WaitUpTo(d), nil
}

// Backoff is the retry schedule used while waiting.
type Backoff struct {
	// Initial is the first sleep. Default 50ms.
	Initial time.Duration
	// Max caps each sleep. Default 1s.
	Max time.Duration
	// Factor multiplies the sleep after each attempt. Default 2.
	Factor float64
}

// DefaultBackoff returns the default retry schedule.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 50 * time.Millisecond, Max: time.Second, Factor: 2}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Factor < 1 {
		b.Factor = d.Factor
	}
	return b
}

func (b Backoff) next(cur time.Duration) time.Duration {
	n := time.Duration(float64(cur) * b.Factor)
	return min(n, b.Max)
}
