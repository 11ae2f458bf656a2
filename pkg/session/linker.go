package session

import (
	"context"
	"sync"

	"github.com/diwise/entity-sync/pkg/deferred"
	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/diwise/entity-sync/pkg/identity"
	"github.com/diwise/entity-sync/pkg/policy"
)

// linker interns decoded documents and binds their links, either directly to
// entities that are already known or to placeholders that the policy engine
// of the query takes care of. There is one linker per query.
type linker struct {
	identities *identity.Map
	source     Source
	engine     *policy.Engine
	fetcher    *fetcher

	mu           sync.Mutex
	placeholders map[string]deferred.Placeholder
}

func newLinker(identities *identity.Map, source Source, engine *policy.Engine) *linker {
	l := &linker{
		identities:   identities,
		source:       source,
		engine:       engine,
		placeholders: map[string]deferred.Placeholder{},
	}
	l.fetcher = &fetcher{linker: l}
	return l
}

// ingest interns every document before linking any of them, so that links
// between documents of the same batch bind directly. Documents that lose to an
// already interned instance are not linked, their data is discarded.
func (l *linker) ingest(ctx context.Context, docs []*entities.Document) ([]entities.Entity, error) {
	canonical := make([]entities.Entity, len(docs))
	fresh := make([]*entities.Document, 0, len(docs))

	for i, doc := range docs {
		canonical[i] = l.identities.Intern(doc.Entity.Key(), doc.Entity)
		if canonical[i] == entities.Entity(doc.Entity) {
			fresh = append(fresh, doc)
		}
	}

	created := []deferred.Placeholder{}

	for _, doc := range fresh {
		c, err := l.link(ctx, doc)
		if err != nil {
			return nil, err
		}
		created = append(created, c...)
	}

	for _, p := range created {
		if err := l.engine.Track(ctx, p); err != nil {
			return nil, err
		}
	}

	return canonical, nil
}

func (l *linker) link(ctx context.Context, doc *entities.Document) ([]deferred.Placeholder, error) {
	owner := doc.Entity
	created := []deferred.Placeholder{}

	for _, link := range doc.Links {
		switch link.Kind {
		case entities.LinkByID:
			if e, ok := l.identities.Lookup(link.Target); ok {
				owner.SetRelationship(link.Field, entities.One(e))
				continue
			}

			p, isNew := l.placeholder(link.Target.String(), func() deferred.Placeholder {
				return deferred.NewEntity(link.Target, l.fetcher, l.identities)
			})
			p.Bind(owner, link.Field)
			if isNew {
				created = append(created, p)
			}

		case entities.LinkByFilter:
			ref := deferred.RelationshipRef(l.source.ID(), link.TargetType, link.Filter)

			p, isNew := l.placeholder(ref, func() deferred.Placeholder {
				return deferred.NewRelationship(l.source.ID(), link.TargetType, link.Filter, l.fetcher, l.identities)
			})
			p.Bind(owner, link.Field)
			if isNew {
				created = append(created, p)
			}

		case entities.LinkEmbedded:
			embedded, err := l.ingest(ctx, link.Embedded)
			if err != nil {
				return nil, err
			}

			switch {
			case link.Many:
				owner.SetRelationship(link.Field, entities.Many(embedded))
			case len(embedded) == 0:
				owner.SetRelationship(link.Field, entities.Null())
			default:
				owner.SetRelationship(link.Field, entities.One(embedded[0]))
			}
		}
	}

	return created, nil
}

// placeholder returns the placeholder registered for ref, creating it if
// this is the first reference to it within the query.
func (l *linker) placeholder(ref string, create func() deferred.Placeholder) (deferred.Placeholder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.placeholders[ref]; ok {
		return p, false
	}

	p := create()
	l.placeholders[ref] = p

	return p, true
}
