// Package graph turns an entity graph into a tree that is safe to encode,
// cutting cycles with a sentinel node.
package graph

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/diwise/entity-sync/pkg/entities"
)

const CircularReference string = "circular reference"

// Serialize walks e depth first. A related entity that is already being
// expanded further up the current path is written as
// {"type": ..., "id": ..., "reason": "circular reference"} and a placeholder is
// written as {"type": ..., "unresolved": true, ...} with the id or filter it
// points at. Placeholders are never resolved by the walk.
func Serialize(e entities.Entity) map[string]any {
	s := newSerializer()
	return s.node(e)
}

func SerializeAll(collection []entities.Entity) []map[string]any {
	s := newSerializer()

	trees := make([]map[string]any, 0, len(collection))
	for _, e := range collection {
		trees = append(trees, s.node(e))
	}

	return trees
}

func Marshal(e entities.Entity) ([]byte, error) {
	return json.Marshal(Serialize(e))
}

func MarshalAll(collection []entities.Entity) ([]byte, error) {
	return json.Marshal(SerializeAll(collection))
}

type serializer struct {
	visited   []entities.Key
	anonymous map[entities.Entity]int
}

func newSerializer() *serializer {
	return &serializer{
		anonymous: map[entities.Entity]int{},
	}
}

// keyOf gives entities without an id a key of their own, based on the order
// in which the walk first met them.
func (s *serializer) keyOf(e entities.Entity) entities.Key {
	k := e.Key()
	if k.HasID() {
		return k
	}

	index, ok := s.anonymous[e]
	if !ok {
		index = len(s.anonymous)
		s.anonymous[e] = index
	}

	k.ID = fmt.Sprintf("#%d", index)
	return k
}

func (s *serializer) node(e entities.Entity) map[string]any {
	key := s.keyOf(e)

	if slices.Contains(s.visited, key) {
		return map[string]any{
			"type":   e.Type(),
			"id":     e.ID(),
			"reason": CircularReference,
		}
	}

	s.visited = append(s.visited, key)
	defer func() { s.visited = s.visited[:len(s.visited)-1] }()

	tree := map[string]any{}

	e.ForEachAttribute(func(name string, value any) {
		tree[name] = value
	})

	e.ForEachRelationship(func(name string, r entities.Relationship) {
		tree[name] = s.relationship(r)
	})

	tree["type"] = e.Type()
	if e.Key().HasID() {
		tree["id"] = e.ID()
	}

	return tree
}

func (s *serializer) relationship(r entities.Relationship) any {
	switch r.Kind() {
	case entities.SingleEntity:
		target, _ := r.Entity()
		return s.node(target)
	case entities.EntityCollection:
		collection, _ := r.Entities()
		nodes := make([]any, 0, len(collection))
		for _, target := range collection {
			nodes = append(nodes, s.node(target))
		}
		return nodes
	case entities.DeferredSingle, entities.DeferredCollection:
		p, _ := r.Placeholder()
		return unresolved(p)
	default:
		return nil
	}
}

func unresolved(p entities.Placeholder) map[string]any {
	marker := map[string]any{}

	for k, v := range p.Describe() {
		marker[k] = v
	}

	marker["type"] = p.TargetType()
	marker["unresolved"] = true

	if p.IsCollection() {
		marker["collection"] = true
	}

	return marker
}
