package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRatePerMinute is the per-user message budget when none is set.
const DefaultRatePerMinute = 30

// userLimiter holds one token bucket per user.
type userLimiter struct {
	mu     sync.Mutex
	every  rate.Limit
	burst  int
	limits map[string]*rate.Limiter
}

func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		perMinute = DefaultRatePerMinute
	}
	return &userLimiter{
		every:  rate.Every(time.Minute / time.Duration(perMinute)),
		burst:  perMinute,
		limits: make(map[string]*rate.Limiter),
	}
}

func (u *userLimiter) get(userID string) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()
	if l, ok := u.limits[userID]; ok {
		return l
	}
	l := rate.NewLimiter(u.every, u.burst)
	u.limits[userID] = l
	return l
}

// Allow reports whether userID may send another message now.
func (u *userLimiter) Allow(userID string) bool {
	return u.get(userID).Allow()
}
