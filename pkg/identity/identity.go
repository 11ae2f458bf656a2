// Package identity keeps at most one in-memory representative per entity key
// for the lifetime of a sync session.
package identity

import (
	"sync"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var internHitCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "entitysync",
	Name:      "identity_map_hits_total",
	Help:      "The total number of interned candidates that were discarded in favour of an existing instance.",
})

// Map is safe for concurrent use. It must never be shared between unrelated
// sessions.
type Map struct {
	mu      sync.Mutex
	entries map[entities.Key]entities.Entity
}

func New() *Map {
	return &Map{
		entries: map[entities.Key]entities.Entity{},
	}
}

// Intern returns the canonical instance for key. The first candidate seen for
// a key wins and later candidates are discarded without merging any of their
// data. Candidates without an id are returned as is and not retained.
func (m *Map) Intern(key entities.Key, candidate entities.Entity) entities.Entity {
	if !key.HasID() {
		return candidate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[key]; ok {
		internHitCounter.Inc()
		return existing
	}

	m.entries[key] = candidate
	return candidate
}

func (m *Map) Lookup(key entities.Key) (entities.Entity, bool) {
	if !key.HasID() {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	return e, ok
}

// Forget drops every entry that belongs to a provider and returns the number
// of dropped entries.
func (m *Map) Forget(providerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0

	for k := range m.entries {
		if k.ProviderID == providerID {
			delete(m.entries, k)
			count++
		}
	}

	return count
}

// Len returns the number of keyed entries
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}
