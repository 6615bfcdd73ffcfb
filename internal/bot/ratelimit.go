// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/chatrelay/internal/config"
)

// limiterRegistry holds one token-bucket limiter per conversation, created
// lazily. Bounded by the number of distinct conversations seen.
type limiterRegistry struct {
	cfg config.RateLimitConfig

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

func newLimiterRegistry(cfg config.RateLimitConfig) *limiterRegistry {
	return &limiterRegistry{
		cfg:      cfg,
		limiters: make(map[int64]*rate.Limiter),
	}
}

// allow reports whether a conversation may send a question now. When denied,
// the returned duration says how long until the next token.
func (r *limiterRegistry) allow(chatID int64) (retryAfter time.Duration, ok bool) {
	if !r.cfg.Enabled {
		return 0, true
	}

	r.mu.Lock()
	lim, exists := r.limiters[chatID]
	if !exists {
		lim = rate.NewLimiter(rate.Limit(r.cfg.PerMinute/60.0), r.cfg.Burst)
		r.limiters[chatID] = lim
	}
	r.mu.Unlock()

	res := lim.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return delay, false
	}
	return 0, true
}
