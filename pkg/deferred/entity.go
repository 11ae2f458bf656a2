package deferred

import (
	"context"
	"fmt"
	"sync"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/diwise/entity-sync/pkg/errors"
)

// Entity stands in for a single related entity known by its key
type Entity struct {
	key      entities.Key
	fetcher  Fetcher
	interner Interner

	resolveMu sync.Mutex
	bindings  bindings
}

var _ Placeholder = (*Entity)(nil)

func NewEntity(key entities.Key, fetcher Fetcher, interner Interner) *Entity {
	return &Entity{
		key:      key,
		fetcher:  fetcher,
		interner: interner,
	}
}

func (d *Entity) Key() entities.Key {
	return d.key
}

func (d *Entity) Ref() string {
	return d.key.String()
}

func (d *Entity) ProviderID() string {
	return d.key.ProviderID
}

func (d *Entity) TargetType() string {
	return d.key.EntityType
}

func (d *Entity) IsCollection() bool {
	return false
}

func (d *Entity) IsResolved() bool {
	return d.bindings.isResolved()
}

func (d *Entity) Describe() map[string]any {
	return map[string]any{"id": d.key.ID}
}

func (d *Entity) Bind(owner entities.Binder, field string) {
	d.bindings.bind(owner, field, d)
}

// Resolved returns the resolved entity without triggering a fetch
func (d *Entity) Resolved() (entities.Entity, bool) {
	r, ok := d.bindings.current()
	if !ok {
		return nil, false
	}
	return r.Entity()
}

// Resolve fetches the entity by id, unless it is already present in the
// identity map, and replaces the placeholder in every bound field. Once
// resolved, later calls return the same instance without fetching.
func (d *Entity) Resolve(ctx context.Context) (entities.Entity, error) {
	d.resolveMu.Lock()
	defer d.resolveMu.Unlock()

	if e, ok := d.Resolved(); ok {
		return e, nil
	}

	if e, ok := d.interner.Lookup(d.key); ok {
		d.resolveWith(e)
		return e, nil
	}

	fetched, err := d.fetcher.FetchByID(ctx, d.key.EntityType, d.key.ID)
	if err != nil {
		return nil, errors.NewResolutionError(fmt.Sprintf("failed to resolve %s", d.key), err)
	}

	if fetched == nil {
		return nil, errors.NewResolutionError(fmt.Sprintf("failed to resolve %s", d.key), errors.NewNotFoundError("fetch returned no entity"))
	}

	e := d.interner.Intern(d.key, fetched)
	d.resolveWith(e)

	return e, nil
}

func (d *Entity) Materialize(ctx context.Context) error {
	_, err := d.Resolve(ctx)
	return err
}

func (d *Entity) resolveWith(e entities.Entity) {
	if d.bindings.complete(entities.One(e)) {
		resolvedCounter.WithLabelValues("entity").Inc()
	}
}
