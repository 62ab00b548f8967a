// Package ratelimit provides per-caller request throttling for the API.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config tunes the token bucket kept per caller.
type Config struct {
	// RequestsPerMinute is the sustained refill rate per key.
	RequestsPerMinute int
	// BurstSize caps how many requests a key can spend at once.
	BurstSize int
	// CleanupInterval controls how often idle buckets are dropped.
	CleanupInterval time.Duration
}

// DefaultConfig allows one request per second with bursts of ten.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

type bucket struct {
	tokens   float64
	refilled time.Time
}

// Limiter holds a token bucket per key and evicts idle ones in the
// background.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
}

func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.evictIdle()
	return l
}

func (l *Limiter) evictIdle() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * time.Minute)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.refilled.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop ends the background eviction goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow spends one token for key, reporting false when the bucket is dry.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(l.cfg.BurstSize - 1), refilled: now}
		return true
	}

	perSecond := float64(l.cfg.RequestsPerMinute) / 60.0
	b.tokens += now.Sub(b.refilled).Seconds() * perSecond
	if limit := float64(l.cfg.BurstSize); b.tokens > limit {
		b.tokens = limit
	}
	b.refilled = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware throttles by client IP, or by a prefix of the Authorization
// header when one is present so callers behind a shared NAT are not
// punished for each other.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if auth := c.GetHeader("Authorization"); auth != "" {
			if len(auth) > 20 {
				auth = auth[:20]
			}
			key = "auth:" + auth
		}

		if !l.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
