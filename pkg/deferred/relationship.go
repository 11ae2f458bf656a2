package deferred

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/diwise/entity-sync/pkg/errors"
)

// Relationship stands in for a collection of related entities described by a
// filter, such as the posts where user is 5.
type Relationship struct {
	providerID string
	entityType string
	filter     entities.Filter
	fetcher    Fetcher
	interner   Interner

	resolveMu sync.Mutex
	bindings  bindings
}

var _ Placeholder = (*Relationship)(nil)

func NewRelationship(providerID, entityType string, filter entities.Filter, fetcher Fetcher, interner Interner) *Relationship {
	return &Relationship{
		providerID: providerID,
		entityType: entityType,
		filter:     maps.Clone(filter),
		fetcher:    fetcher,
		interner:   interner,
	}
}

// RelationshipRef is the Ref of a relationship placeholder with these properties
func RelationshipRef(providerID, entityType string, filter entities.Filter) string {
	return fmt.Sprintf("%s/%s?%s", providerID, entityType, filter.String())
}

func (d *Relationship) Ref() string {
	return RelationshipRef(d.providerID, d.entityType, d.filter)
}

func (d *Relationship) ProviderID() string {
	return d.providerID
}

func (d *Relationship) TargetType() string {
	return d.entityType
}

func (d *Relationship) Filter() entities.Filter {
	return maps.Clone(d.filter)
}

func (d *Relationship) IsCollection() bool {
	return true
}

func (d *Relationship) IsResolved() bool {
	return d.bindings.isResolved()
}

func (d *Relationship) Describe() map[string]any {
	return map[string]any{"filter": map[string]string(d.Filter())}
}

func (d *Relationship) Bind(owner entities.Binder, field string) {
	d.bindings.bind(owner, field, d)
}

func (d *Relationship) Resolved() ([]entities.Entity, bool) {
	r, ok := d.bindings.current()
	if !ok {
		return nil, false
	}
	return r.Entities()
}

// Resolve performs the filtered fetch, interns every result and replaces the
// placeholder with the collection in every bound field.
func (d *Relationship) Resolve(ctx context.Context) ([]entities.Entity, error) {
	d.resolveMu.Lock()
	defer d.resolveMu.Unlock()

	if c, ok := d.Resolved(); ok {
		return c, nil
	}

	fetched, err := d.fetcher.FetchByFilter(ctx, d.entityType, d.Filter())
	if err != nil {
		return nil, errors.NewResolutionError(fmt.Sprintf("failed to resolve %s", d.Ref()), err)
	}

	collection, err := d.intern(fetched)
	if err != nil {
		return nil, err
	}

	d.resolveWith(collection)

	return collection, nil
}

func (d *Relationship) Materialize(ctx context.Context) error {
	_, err := d.Resolve(ctx)
	return err
}

func (d *Relationship) intern(fetched []entities.Entity) ([]entities.Entity, error) {
	collection := make([]entities.Entity, 0, len(fetched))

	for _, e := range fetched {
		if e == nil {
			return nil, errors.NewResolutionError(fmt.Sprintf("failed to resolve %s", d.Ref()), errors.NewNotFoundError("fetch returned an incomplete collection"))
		}
		collection = append(collection, d.interner.Intern(e.Key(), e))
	}

	return collection, nil
}

func (d *Relationship) resolveWith(collection []entities.Entity) {
	if d.bindings.complete(entities.Many(collection)) {
		resolvedCounter.WithLabelValues("collection").Inc()
	}
}
