// Package ratelimit implements sliding-window request counters.
//
// Each key maps to a list of (timestamp, count) entries. A hit prunes entries
// whose age has reached the window, sums the rest and compares the sum to the
// limit. A request is recorded only when every window it is checked against
// allows it, so a denied client is let through again once the oldest counted
// entry leaves the window.
package ratelimit

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Window is a limit of Limit requests per Period.
type Window struct {
	Limit  int
	Period time.Duration
}

// Decision is the outcome of one hit against one window.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when allowed
	Reset      time.Duration // until the oldest counted entry expires
}

// RetryAfterSeconds rounds up, never below one second for a denial.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	return ceilSeconds(d.RetryAfter)
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Key names one counter and the window it is checked against.
type Key struct {
	Name   string
	Window Window
}

// Store checks one request against several counters at once. The request is
// recorded in every counter only when all of them allow it, so a denial by
// one window costs nothing in the others. Decisions come back in key order.
// Implementations must be safe for concurrent use.
type Store interface {
	Hit(ctx context.Context, keys []Key, now time.Time) ([]Decision, error)
}

type entry struct {
	at    time.Time
	count int
}

// MemoryStore keeps counters in process memory. State is lost on restart
// and is not shared between processes.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]entry)}
}

func (m *MemoryStore) Hit(_ context.Context, keys []Key, now time.Time) ([]Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Decision, len(keys))
	allowed := true
	for i, k := range keys {
		list := prune(m.entries[k.Name], now, k.Window.Period)
		if len(list) == 0 {
			delete(m.entries, k.Name)
		} else {
			m.entries[k.Name] = list
		}
		used := sum(list)

		d := Decision{Limit: k.Window.Limit, Reset: k.Window.Period}
		if len(list) > 0 {
			if age := now.Sub(list[0].at); age > 0 {
				d.Reset = k.Window.Period - age
			}
		}
		if used >= k.Window.Limit {
			d.RetryAfter = d.Reset
			allowed = false
		} else {
			d.Allowed = true
			d.Remaining = k.Window.Limit - used
		}
		out[i] = d
	}
	if !allowed {
		return out, nil
	}

	for i, k := range keys {
		m.entries[k.Name] = insert(m.entries[k.Name], now)
		out[i].Remaining--
	}
	return out, nil
}

// insert records one hit at the given time. Callers may race on the clock,
// so the entry goes to its sorted position rather than the end.
func insert(list []entry, at time.Time) []entry {
	i := sort.Search(len(list), func(i int) bool { return !list[i].at.Before(at) })
	if i < len(list) && list[i].at.Equal(at) {
		list[i].count++
		return list
	}
	list = append(list, entry{})
	copy(list[i+1:], list[i:])
	list[i] = entry{at: at, count: 1}
	return list
}

// Sweep drops keys with no entry younger than maxAge.
func (m *MemoryStore) Sweep(now time.Time, maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, list := range m.entries {
		if len(prune(list, now, maxAge)) == 0 {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// prune removes entries aged period or more. Entries are kept in
// timestamp order so the cut is a prefix.
func prune(list []entry, now time.Time, period time.Duration) []entry {
	i := 0
	for i < len(list) && now.Sub(list[i].at) >= period {
		i++
	}
	if i == 0 {
		return list
	}
	out := make([]entry, len(list)-i)
	copy(out, list[i:])
	return out
}

func sum(list []entry) int {
	n := 0
	for _, e := range list {
		n += e.count
	}
	return n
}
