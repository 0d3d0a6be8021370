package messenger

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Throttle bounds how often each owner's messages are edited. Chat transports
// rate-limit edits far more aggressively than sends, and a relay flushing on a
// short cadence would otherwise trip those limits. Sends and files pass through.
type Throttle struct {
	next  Messenger
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottle wraps next. A non-positive rps disables throttling.
func NewThrottle(next Messenger, rps float64, burst int) *Throttle {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		next:     next,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Send passes through.
func (t *Throttle) Send(ctx context.Context, owner, text string, buttons []Button) (string, error) {
	return t.next.Send(ctx, owner, text, buttons)
}

// Edit waits for the owner's token before editing.
func (t *Throttle) Edit(ctx context.Context, owner, messageID, text string, buttons []Button) error {
	if err := t.limiter(owner).Wait(ctx); err != nil {
		return fmt.Errorf("edit throttle: %w", err)
	}
	return t.next.Edit(ctx, owner, messageID, text, buttons)
}

// SendFile passes through.
func (t *Throttle) SendFile(ctx context.Context, owner, path string) error {
	return t.next.SendFile(ctx, owner, path)
}

func (t *Throttle) limiter(owner string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[owner]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[owner] = l
	}
	return l
}
