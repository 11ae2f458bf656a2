package entities

import (
	"encoding/json"
	"sort"
	"sync"
)

type Entity interface {
	Key() Key
	ID() string
	Type() string

	Attribute(name string) (any, bool)
	Relationship(name string) (Relationship, bool)

	ForEachAttribute(func(attributeName string, value any))
	ForEachRelationship(func(relationshipName string, value Relationship))
}

// Binder is implemented by entities whose relationship fields can be replaced,
// which is how a resolved placeholder swaps itself out of its owner.
type Binder interface {
	Entity
	SetRelationship(name string, value Relationship)
}

type EntityDecoratorFunc func(e *EntityImpl)

func New(providerID, entityType string, id any, decorators ...EntityDecoratorFunc) *EntityImpl {
	e := &EntityImpl{
		key:           NewKey(providerID, entityType, id),
		attributes:    map[string]any{},
		relationships: map[string]Relationship{},
	}

	for _, decorator := range decorators {
		decorator(e)
	}

	return e
}

type EntityImpl struct {
	key Key

	mu            sync.RWMutex
	attributes    map[string]any
	relationships map[string]Relationship
}

func (e *EntityImpl) Key() Key {
	return e.key
}

func (e *EntityImpl) ID() string {
	return e.key.ID
}

func (e *EntityImpl) Type() string {
	return e.key.EntityType
}

func (e *EntityImpl) Attribute(name string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.attributes[name]
	return v, ok
}

func (e *EntityImpl) Relationship(name string) (Relationship, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.relationships[name]
	return r, ok
}

func (e *EntityImpl) SetAttribute(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.attributes[name] = value
}

func (e *EntityImpl) SetRelationship(name string, value Relationship) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.relationships[name] = value
}

// ForEachAttribute visits attributes in name order
func (e *EntityImpl) ForEachAttribute(callback func(attributeName string, value any)) {
	e.mu.RLock()
	names := sortedKeys(e.attributes)
	values := make([]any, len(names))
	for i, n := range names {
		values[i] = e.attributes[n]
	}
	e.mu.RUnlock()

	for i, n := range names {
		callback(n, values[i])
	}
}

// ForEachRelationship visits relationship fields in name order. The callback
// runs without the entity lock held so that it may replace fields.
func (e *EntityImpl) ForEachRelationship(callback func(relationshipName string, value Relationship)) {
	e.mu.RLock()
	names := sortedKeys(e.relationships)
	values := make([]Relationship, len(names))
	for i, n := range names {
		values[i] = e.relationships[n]
	}
	e.mu.RUnlock()

	for i, n := range names {
		callback(n, values[i])
	}
}

// MarshalJSON writes the flat attribute view of the entity. Relationship
// fields are written as ids only, use the graph package for a full tree.
func (e *EntityImpl) MarshalJSON() ([]byte, error) {
	contents := map[string]any{
		"type": e.Type(),
	}

	if e.key.HasID() {
		contents["id"] = e.ID()
	}

	e.ForEachAttribute(func(name string, value any) {
		contents[name] = value
	})

	e.ForEachRelationship(func(name string, r Relationship) {
		switch r.Kind() {
		case SingleEntity:
			contents[name] = r.entity.ID()
		case EntityCollection:
			ids := make([]string, 0, len(r.collection))
			for _, c := range r.collection {
				ids = append(ids, c.ID())
			}
			contents[name] = ids
		case NullRelationship:
			contents[name] = nil
		}
	})

	return json.Marshal(&contents)
}

func Attr(name string, value any) EntityDecoratorFunc {
	return func(e *EntityImpl) { e.attributes[name] = value }
}

func Rel(name string, value Relationship) EntityDecoratorFunc {
	return func(e *EntityImpl) { e.relationships[name] = value }
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
