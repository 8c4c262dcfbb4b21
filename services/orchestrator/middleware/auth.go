// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides the external surface's gin middleware:
// an X-API-KEY shared-secret check and a per-key token bucket.
// It deliberately does not authenticate users or
// implement RBAC; the control plane trusts whatever holds the single
// ingest key.
package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/wardenai/sentinel/services/cache"
)

// KeySource resolves the currently valid ingest API key, in the precedence
// order the launcher uses: a config-supplied key wins if set; otherwise the
// cached key (possibly auto-generated on first boot) is used.
type KeySource struct {
	ConfigKey string
	Cache     *cache.Cache
}

// Matches reports whether candidate is the currently valid ingest key. An
// empty candidate never matches, even against an empty ConfigKey.
func (s KeySource) Matches(candidate string) bool {
	if candidate == "" {
		return false
	}
	if s.ConfigKey != "" {
		return candidate == s.ConfigKey
	}
	if s.Cache != nil {
		return s.Cache.MatchesAPIKey(candidate)
	}
	return false
}

const apiKeyContextKey = "sentinel_api_key"

// APIKeyAuth rejects any request whose X-API-KEY header doesn't match
// source's currently valid key, with 401. It runs before rate limiting:
// an unauthenticated caller never consumes another key's budget.
func APIKeyAuth(source KeySource) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-KEY")
		if !source.Matches(key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing X-API-KEY"})
			return
		}
		c.Set(apiKeyContextKey, key)
		c.Next()
	}
}

// CallerKey returns the API key APIKeyAuth validated for this request, or
// "" if APIKeyAuth never ran on it.
func CallerKey(c *gin.Context) string {
	v, ok := c.Get(apiKeyContextKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// RateLimiter hands out one golang.org/x/time/rate.Limiter per API key,
// the same getOrCreate-under-lock shape a per-tenant ingest limiter uses,
// scoped here to a single shared key rather than a tenant.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter returns a RateLimiter allowing rps sustained requests per
// second per key, with burst as the bucket size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	rl.limiters[key] = l
	return l
}

// Middleware returns a gin.HandlerFunc that answers 429 once the caller's
// key has exhausted its token bucket. It must run after APIKeyAuth so the
// 401 check always happens first.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := CallerKey(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !rl.limiterFor(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
