package common

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"autotrade-core/pkg/logger"
)

// RateLimiter tracks the remaining request budget the venue reports per group
// in its Remaining-Req header ("group=default; min=1800; sec=29").
type RateLimiter struct {
	mu        sync.RWMutex
	groups    map[string]remaining
	threshold int
	now       func() time.Time
}

type remaining struct {
	sec       int
	updatedAt time.Time
}

// NewRateLimiter creates a limiter that asks callers to back off when fewer
// than threshold requests remain in the current second.
func NewRateLimiter(threshold int) *RateLimiter {
	return &RateLimiter{groups: make(map[string]remaining), threshold: threshold, now: time.Now}
}

// UpdateFromHeader records the budget from a Remaining-Req header value.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	group, sec, ok := parseRemainingReq(headerValue)
	if !ok {
		return
	}
	rl.mu.Lock()
	rl.groups[group] = remaining{sec: sec, updatedAt: rl.now()}
	rl.mu.Unlock()

	if sec <= rl.threshold {
		logger.Warnf("rate limit low: group=%s remaining=%d/s", group, sec)
	}
}

// Remaining returns the last reported per-second budget for group. Budgets
// older than one second are considered refilled.
func (rl *RateLimiter) Remaining(group string) (int, bool) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	r, ok := rl.groups[group]
	if !ok || rl.now().Sub(r.updatedAt) >= time.Second {
		return 0, false
	}
	return r.sec, true
}

// ShouldDelay returns true if we should delay the next request in group.
func (rl *RateLimiter) ShouldDelay(group string) bool {
	sec, ok := rl.Remaining(group)
	return ok && sec <= rl.threshold
}

func parseRemainingReq(v string) (group string, sec int, ok bool) {
	if v == "" {
		return "", 0, false
	}
	sec = -1
	for _, part := range strings.Split(v, ";") {
		key, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "group":
			group = val
		case "sec":
			if n, err := strconv.Atoi(val); err == nil {
				sec = n
			}
		}
	}
	if group == "" || sec < 0 {
		return "", 0, false
	}
	return group, sec, true
}
