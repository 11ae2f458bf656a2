package entities

// Placeholder is a stand in for a related entity, or a collection of related
// entities, that has not been fetched yet. None of its methods may trigger
// a backend call.
type Placeholder interface {
	TargetType() string
	IsCollection() bool
	IsResolved() bool
	// Describe returns what the placeholder points at, i.e. {"id": ...} or {"filter": {...}}
	Describe() map[string]any
}

type RelationshipKind int

const (
	NullRelationship RelationshipKind = iota
	SingleEntity
	EntityCollection
	DeferredSingle
	DeferredCollection
)

func (k RelationshipKind) String() string {
	switch k {
	case SingleEntity:
		return "entity"
	case EntityCollection:
		return "collection"
	case DeferredSingle:
		return "deferred entity"
	case DeferredCollection:
		return "deferred collection"
	default:
		return "null"
	}
}

// Relationship is the value held by a relationship field: nothing, a concrete
// entity, a concrete collection or a placeholder for one of the two.
type Relationship struct {
	kind        RelationshipKind
	entity      Entity
	collection  []Entity
	placeholder Placeholder
}

func Null() Relationship {
	return Relationship{kind: NullRelationship}
}

func One(e Entity) Relationship {
	if e == nil {
		return Null()
	}
	return Relationship{kind: SingleEntity, entity: e}
}

func Many(collection []Entity) Relationship {
	c := make([]Entity, len(collection))
	copy(c, collection)
	return Relationship{kind: EntityCollection, collection: c}
}

func Deferred(p Placeholder) Relationship {
	if p.IsCollection() {
		return Relationship{kind: DeferredCollection, placeholder: p}
	}
	return Relationship{kind: DeferredSingle, placeholder: p}
}

func (r Relationship) Kind() RelationshipKind {
	return r.kind
}

func (r Relationship) IsNull() bool {
	return r.kind == NullRelationship
}

// IsPlaceholder reports if the field still holds a placeholder. It never
// resolves anything.
func (r Relationship) IsPlaceholder() bool {
	return r.kind == DeferredSingle || r.kind == DeferredCollection
}

func (r Relationship) Entity() (Entity, bool) {
	return r.entity, r.kind == SingleEntity
}

func (r Relationship) Entities() ([]Entity, bool) {
	if r.kind != EntityCollection {
		return nil, false
	}
	c := make([]Entity, len(r.collection))
	copy(c, r.collection)
	return c, true
}

func (r Relationship) Placeholder() (Placeholder, bool) {
	return r.placeholder, r.IsPlaceholder()
}
