package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is a per-client token bucket for general request traffic.
// Buckets idle longer than ten minutes are dropped on the next call.
type Throttle struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*bucket
	swept   time.Time
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const idleBucketTTL = 10 * time.Minute

// NewThrottle returns nil when rps is not positive; a nil Throttle allows
// everything.
func NewThrottle(rps float64, burst int) *Throttle {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.swept) > idleBucketTTL {
		for k, b := range t.clients {
			if now.Sub(b.lastSeen) > idleBucketTTL {
				delete(t.clients, k)
			}
		}
		t.swept = now
	}

	b, ok := t.clients[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}
