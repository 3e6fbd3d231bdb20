// Package ratelimit implements a sliding-window attempt counter keyed by
// (operation, subject). It guards abuse-prone operations such as session
// resume: only events inside the trailing window count, so a burst of denied
// attempts unblocks itself as time passes.
package ratelimit

import (
	"sync"
	"time"

	"atelier/internal/logging"
)

type entryKey struct {
	op  string
	key string
}

// Limiter tracks attempt timestamps per (op, key). Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	entries map[entryKey][]time.Time

	sweepInterval time.Duration
	stop          chan struct{}
	done          chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a Limiter that sweeps fully-expired keys every
// sweepInterval. Call Stop to shut the sweeper down.
func NewLimiter(sweepInterval time.Duration) *Limiter {
	l := &Limiter{
		entries:       make(map[entryKey][]time.Time),
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		now:           time.Now,
	}
	go l.sweepLoop()
	return l
}

// CheckAndRecord records one attempt for (op, key) and reports whether it is
// allowed under limit attempts per window. When denied, retryAfter says how
// long until the oldest in-window attempt expires. Denied attempts are also
// recorded: hammering a denied operation keeps it denied.
func (l *Limiter) CheckAndRecord(op, key string, limit int, window time.Duration) (bool, time.Duration) {
	now := l.now()
	cutoff := now.Add(-window)
	k := entryKey{op: op, key: key}

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.entries[k]

	// Drop everything that fell out of the window.
	live := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= limit {
		retryAfter := live[0].Sub(cutoff)
		live = append(live, now)
		// Cap the list at 2x the limit so a hot key cannot grow unbounded.
		if len(live) > 2*limit {
			live = live[len(live)-2*limit:]
		}
		l.entries[k] = live
		logging.RateLimit("denied %s for %s (%d attempts in window, retry in %v)", op, key, len(live), retryAfter)
		return false, retryAfter
	}

	live = append(live, now)
	l.entries[k] = live
	return true, 0
}

// Reset forgets all attempts for (op, key).
func (l *Limiter) Reset(op, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, entryKey{op: op, key: key})
}

// Len returns the number of tracked keys. Exposed for tests and diagnostics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stop terminates the background sweeper. Safe to call once.
func (l *Limiter) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Limiter) sweepLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep evicts keys whose newest timestamp is older than the sweep interval.
// The interval is the longest window any caller plausibly uses, so an entry
// idle that long can no longer influence a decision.
func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.sweepInterval)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, stamps := range l.entries {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.entries, k)
			removed++
		}
	}
	if removed > 0 {
		logging.RateLimit("swept %d idle keys (%d remain)", removed, len(l.entries))
	}
}
