package wizard

import (
	"context"
	"sync"
	"time"
)

// DefaultResendDelay is how long a verification code must age before another is sent.
const DefaultResendDelay = 3 * time.Minute

// ResendTimer counts down until a new verification code may be requested.
type ResendTimer struct {
	mu       sync.Mutex
	delay    time.Duration
	deadline time.Time
	now      func() time.Time
}

func NewResendTimer(delay time.Duration) *ResendTimer {
	if delay <= 0 {
		delay = DefaultResendDelay
	}
	return &ResendTimer{delay: delay, now: time.Now}
}

// Start (re)arms the countdown, typically right after a code was sent.
func (t *ResendTimer) Start() {
	t.mu.Lock()
	t.deadline = t.now().Add(t.delay)
	t.mu.Unlock()
}

func (t *ResendTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deadline.IsZero() {
		return 0
	}
	return max(t.deadline.Sub(t.now()), 0)
}

func (t *ResendTimer) CanResend() bool { return t.Remaining() == 0 }

// Run calls onTick with the remaining time every interval until the
// countdown hits zero (one final call with 0) or ctx is done. A non-positive
// interval ticks every second.
func (t *ResendTimer) Run(ctx context.Context, interval time.Duration, onTick func(time.Duration)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		left := t.Remaining()
		onTick(left)
		if left == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
