// Package deferred contains placeholders for related entities that have been
// identified but not fetched. A placeholder resolves itself through a Fetcher,
// interns what it fetched and then replaces itself in every field it is bound to.
package deferred

import (
	"context"
	"sync"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var resolvedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "entitysync",
	Name:      "placeholders_resolved_total",
	Help:      "The total number of resolved placeholders.",
}, []string{"kind"})

// Fetcher holds the fetch primitives a provider offers for resolution
type Fetcher interface {
	FetchByID(ctx context.Context, entityType, id string) (entities.Entity, error)
	FetchByFilter(ctx context.Context, entityType string, filter entities.Filter) ([]entities.Entity, error)
}

// BatchFetcher is implemented by fetchers that can fetch several entities of
// the same type in one round trip.
type BatchFetcher interface {
	Fetcher
	FetchByIDs(ctx context.Context, entityType string, ids []string) ([]entities.Entity, error)
	FetchByFieldValues(ctx context.Context, entityType, field string, values []string) ([]entities.Entity, error)
}

// Interner is the part of the identity map that resolution needs
type Interner interface {
	Intern(key entities.Key, candidate entities.Entity) entities.Entity
	Lookup(key entities.Key) (entities.Entity, bool)
}

type Placeholder interface {
	entities.Placeholder

	// Ref is equal for placeholders pointing at the same thing
	Ref() string
	ProviderID() string

	// Bind stores the placeholder, or its resolved value, in a field of owner
	// and replaces it in that field once resolved.
	Bind(owner entities.Binder, field string)

	Materialize(ctx context.Context) error
}

type binding struct {
	owner entities.Binder
	field string
}

// bindings is shared by both placeholder kinds. The value is set once and
// every owner bound before or after that sees it.
type bindings struct {
	mu       sync.Mutex
	owners   []binding
	resolved bool
	value    entities.Relationship
}

func (b *bindings) bind(owner entities.Binder, field string, placeholder entities.Placeholder) {
	b.mu.Lock()
	value := entities.Deferred(placeholder)
	if b.resolved {
		value = b.value
	} else {
		b.owners = append(b.owners, binding{owner: owner, field: field})
	}
	b.mu.Unlock()

	owner.SetRelationship(field, value)
}

func (b *bindings) complete(value entities.Relationship) bool {
	b.mu.Lock()
	if b.resolved {
		b.mu.Unlock()
		return false
	}

	b.resolved = true
	b.value = value
	owners := b.owners
	b.owners = nil
	b.mu.Unlock()

	for _, o := range owners {
		o.owner.SetRelationship(o.field, value)
	}

	return true
}

func (b *bindings) isResolved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolved
}

func (b *bindings) current() (entities.Relationship, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.resolved
}
