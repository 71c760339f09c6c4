package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oar-cd/bubble/domain"
)

// Limits caps relayed requests
type Limits struct {
	PerMinute     int
	PerTenMinutes int
	PerHour       int
	GlobalPerHour int
	// MaxTrackedContainers bounds memory; the least recently seen container is forgotten first
	MaxTrackedContainers int
}

// DefaultLimits are 3/minute, 10/10 minutes and 20/hour per container, 30/hour overall
var DefaultLimits = Limits{
	PerMinute:            3,
	PerTenMinutes:        10,
	PerHour:              20,
	GlobalPerHour:        30,
	MaxTrackedContainers: 100,
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed bool
	// Remaining is the room left in the tightest window after this request
	Remaining  int
	RetryAfter time.Duration
}

type window struct {
	name  string
	span  time.Duration
	limit int
}

type containerHits struct {
	mu   sync.Mutex
	hits []time.Time
	last time.Time
}

// RateLimiter keeps sliding windows in memory; a restart resets all counters
type RateLimiter struct {
	limits  Limits
	windows []window
	now     func() time.Time

	mu         sync.Mutex
	containers map[string]*containerHits

	globalMu sync.Mutex
	global   []time.Time
}

func NewRateLimiter(limits Limits) *RateLimiter {
	if limits.MaxTrackedContainers <= 0 {
		limits.MaxTrackedContainers = DefaultLimits.MaxTrackedContainers
	}
	return &RateLimiter{
		limits: limits,
		windows: []window{
			{name: "minute", span: time.Minute, limit: limits.PerMinute},
			{name: "10 minutes", span: 10 * time.Minute, limit: limits.PerTenMinutes},
			{name: "hour", span: time.Hour, limit: limits.PerHour},
		},
		now:        time.Now,
		containers: map[string]*containerHits{},
	}
}

// Allow checks every window for container and records the request when all pass.
// A rejection returns a RateLimitExceededError and records nothing.
func (l *RateLimiter) Allow(container string) (*RateLimitResult, error) {
	c := l.entry(container)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := l.now()
	c.hits = prune(c.hits, now.Add(-time.Hour))

	remaining := -1
	for _, w := range l.windows {
		count, oldest := countSince(c.hits, now.Add(-w.span))
		if count >= w.limit {
			retry := oldest.Add(w.span).Sub(now)
			slog.Debug("Relay rate limit exceeded", "container", container, "window", w.name, "count", count)
			return &RateLimitResult{RetryAfter: retry}, &domain.RateLimitExceededError{
				Container:  container,
				Window:     w.name,
				Limit:      w.limit,
				RetryAfter: retry,
			}
		}
		if left := w.limit - count - 1; remaining < 0 || left < remaining {
			remaining = left
		}
	}

	// The global window is checked and charged together so it never overshoots
	l.globalMu.Lock()
	l.global = prune(l.global, now.Add(-time.Hour))
	if len(l.global) >= l.limits.GlobalPerHour {
		retry := l.global[0].Add(time.Hour).Sub(now)
		l.globalMu.Unlock()
		return &RateLimitResult{RetryAfter: retry}, &domain.RateLimitExceededError{
			Window:     "hour",
			Limit:      l.limits.GlobalPerHour,
			RetryAfter: retry,
		}
	}
	l.global = append(l.global, now)
	if left := l.limits.GlobalPerHour - len(l.global); left < remaining {
		remaining = left
	}
	l.globalMu.Unlock()

	c.hits = append(c.hits, now)
	c.last = now
	return &RateLimitResult{Allowed: true, Remaining: remaining}, nil
}

// Tracked returns how many containers currently have request history
func (l *RateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.containers)
}

// entry returns the history of container, evicting the least recently seen
// container when the table is full
func (l *RateLimiter) entry(container string) *containerHits {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.containers[container]; ok {
		return c
	}
	if len(l.containers) >= l.limits.MaxTrackedContainers {
		var (
			oldestKey  string
			oldestSeen time.Time
			found      bool
		)
		for key, c := range l.containers {
			c.mu.Lock()
			seen := c.last
			c.mu.Unlock()
			if !found || seen.Before(oldestSeen) {
				oldestKey, oldestSeen, found = key, seen, true
			}
		}
		delete(l.containers, oldestKey)
	}
	c := &containerHits{}
	l.containers[container] = c
	return c
}

// prune drops timestamps at or before cutoff; hits are in ascending order
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func countSince(hits []time.Time, cutoff time.Time) (int, time.Time) {
	count := 0
	var oldest time.Time
	for _, h := range hits {
		if h.After(cutoff) {
			if count == 0 {
				oldest = h
			}
			count++
		}
	}
	return count, oldest
}
