// Package subscription implements the Subscription Manager (§4.8):
// priority-aware multiplexing of instrument tokens onto a capped upstream
// market-data feed, grounded on the teacher's backend/lpmanager registry and
// start/stop-locked pattern, repurposed from "LP connections" to
// "(subscriberKey, token) -> priority" entries.
package subscription

import (
	"maps"
	"sort"
	"sync"

	"github.com/quantwell/optioncore/backend/execution"
)

// Priority is the subscriber-class ranking used for eviction (§4.8). STRATEGY
// is never evicted.
type Priority int

const (
	PriorityStrategy Priority = iota
	PriorityCondition
	PriorityManual
)

type entryKey struct {
	subscriberKey string
	token         uint64
}

// Manager owns the active-token set exclusively (§3 ownership rule).
type Manager struct {
	mu             sync.Mutex
	entries        map[entryKey]Priority
	tokenRefCount  map[uint64]int
	maxInstruments int
}

// NewManager builds a Manager capped at maxInstruments active tokens
// (default 3000 per §6 subscription.maxInstruments).
func NewManager(maxInstruments int) *Manager {
	if maxInstruments <= 0 {
		maxInstruments = 3000
	}
	return &Manager{
		entries:        make(map[entryKey]Priority),
		tokenRefCount:  make(map[uint64]int),
		maxInstruments: maxInstruments,
	}
}

// Subscribe registers tokens for subscriberKey at priority. Returns the
// tokens the upstream feed must newly add, or CapacityExhausted if eviction
// could not free enough room — in which case no state changes.
func (m *Manager) Subscribe(subscriberKey string, tokens []uint64, priority Priority) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[uint64]bool)
	var newTokens []uint64
	for _, t := range tokens {
		key := entryKey{subscriberKey, t}
		if _, exists := m.entries[key]; exists {
			continue
		}
		if m.tokenRefCount[t] > 0 {
			active[t] = true
		} else {
			newTokens = append(newTokens, t)
		}
	}

	currentActive := len(m.tokenRefCount)
	needed := currentActive + len(newTokens)
	if needed > m.maxInstruments {
		savedEntries, savedRefs := maps.Clone(m.entries), maps.Clone(m.tokenRefCount)
		freed := m.evictForRoom(needed-m.maxInstruments, priority)
		if currentActive-freed+len(newTokens) > m.maxInstruments {
			m.entries, m.tokenRefCount = savedEntries, savedRefs
			return nil, execution.CapacityExhausted{Requested: needed, Capacity: m.maxInstruments}
		}
	}

	for _, t := range tokens {
		m.entries[entryKey{subscriberKey, t}] = priority
		m.tokenRefCount[t]++
	}

	return newTokens, nil
}

// evictForRoom removes the lowest-priority entries strictly lower priority
// than incoming, returning the count of tokens fully freed from the active
// set. STRATEGY entries are never evicted.
func (m *Manager) evictForRoom(needRoom int, incoming Priority) int {
	type candidate struct {
		key      entryKey
		priority Priority
	}
	var candidates []candidate
	for k, p := range m.entries {
		if p > incoming && p != PriorityStrategy {
			candidates = append(candidates, candidate{k, p})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority // lowest priority (highest value) first
	})

	freed := 0
	for _, c := range candidates {
		if freed >= needRoom {
			break
		}
		delete(m.entries, c.key)
		m.tokenRefCount[c.key.token]--
		if m.tokenRefCount[c.key.token] <= 0 {
			delete(m.tokenRefCount, c.key.token)
			freed++
		}
	}
	return freed
}

// Unsubscribe removes tokens registered for subscriberKey, returning the
// subset that no remaining entry references (for the upstream feed to drop).
func (m *Manager) Unsubscribe(subscriberKey string, tokens []uint64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribeLocked(subscriberKey, tokens)
}

func (m *Manager) unsubscribeLocked(subscriberKey string, tokens []uint64) []uint64 {
	var removed []uint64
	for _, t := range tokens {
		key := entryKey{subscriberKey, t}
		if _, exists := m.entries[key]; !exists {
			continue
		}
		delete(m.entries, key)
		m.tokenRefCount[t]--
		if m.tokenRefCount[t] <= 0 {
			delete(m.tokenRefCount, t)
			removed = append(removed, t)
		}
	}
	return removed
}

// UnsubscribeAll removes every entry owned by subscriberKey.
func (m *Manager) UnsubscribeAll(subscriberKey string) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mine []uint64
	for k := range m.entries {
		if k.subscriberKey == subscriberKey {
			mine = append(mine, k.token)
		}
	}
	return m.unsubscribeLocked(subscriberKey, mine)
}

// ActiveCount returns the current size of the active-token set.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokenRefCount)
}

// IsActive reports whether token is in the active set.
func (m *Manager) IsActive(token uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenRefCount[token] > 0
}
