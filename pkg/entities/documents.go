package entities

import (
	"strings"
)

// Filter describes a one-to-many relationship by field values, i.e.
// "posts where user = 5" is Filter{"user": "5"}
type Filter map[string]string

// String returns a canonical form, equal filters give equal strings
func (f Filter) String() string {
	keys := sortedKeys(f)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+f[k])
	}
	return strings.Join(parts, "&")
}

func (f Filter) Fields() []string {
	return sortedKeys(f)
}

// Matches reports if every filter field equals the corresponding attribute,
// or the id of the entity held by the corresponding relationship field.
func (f Filter) Matches(e Entity) bool {
	for field, want := range f {
		if !fieldEquals(e, field, want) {
			return false
		}
	}
	return true
}

func fieldEquals(e Entity, field, want string) bool {
	if v, ok := e.Attribute(field); ok {
		return IDString(v) == want
	}

	if r, ok := e.Relationship(field); ok {
		if target, ok := r.Entity(); ok {
			return target.ID() == want
		}
		if p, ok := r.Placeholder(); ok && !p.IsCollection() {
			return IDString(p.Describe()["id"]) == want
		}
	}

	return false
}

type LinkKind int

const (
	// LinkByID points at a single entity by its key
	LinkByID LinkKind = iota
	// LinkByFilter points at a collection described by a filter
	LinkByFilter
	// LinkEmbedded carries related entities that were inlined in the record
	LinkEmbedded
)

// Link is a relationship field as found in a decoded record, before it has
// been bound to a concrete value or a placeholder.
type Link struct {
	Field      string
	Kind       LinkKind
	Target     Key
	TargetType string
	Filter     Filter
	Embedded   []*Document
	Many       bool
}

// Document is a decoded backend record: an entity with its attributes set and
// the relationship links that still need binding.
type Document struct {
	Entity *EntityImpl
	Links  []Link
}
