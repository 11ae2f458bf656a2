// Package session runs queries against providers and keeps the entities they
// produce in one identity map for the lifetime of the session.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/diwise/entity-sync/pkg/deferred"
	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/entity-sync/pkg/identity"
	"github.com/diwise/entity-sync/pkg/pager"
	"github.com/diwise/entity-sync/pkg/policy"
	"github.com/diwise/entity-sync/pkg/transport"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Source is what a session needs from a provider
type Source interface {
	ID() string
	OpenStream(entityType string, query transport.Query, pg pager.Pager) (*pager.Stream, error)
	Decode(entityType string, raw json.RawMessage) (*entities.Document, error)

	FetchDocumentByID(ctx context.Context, entityType, id string) (*entities.Document, error)
	FetchDocumentsByFilter(ctx context.Context, entityType string, filter entities.Filter) ([]*entities.Document, error)
	FetchDocumentsByIDs(ctx context.Context, entityType string, ids []string) ([]*entities.Document, error)
	FetchDocumentsByFieldValues(ctx context.Context, entityType, field string, values []string) ([]*entities.Document, error)
}

type Session struct {
	id         string
	identities *identity.Map
	mode       policy.Mode

	mu      sync.RWMutex
	sources map[string]Source

	stopped atomic.Bool
}

func WithSource(source Source) func(*Session) {
	return func(s *Session) {
		s.sources[source.ID()] = source
	}
}

// DefaultPolicy is used by queries that do not choose a policy of their own
func DefaultPolicy(mode policy.Mode) func(*Session) {
	return func(s *Session) {
		s.mode = mode
	}
}

func New(options ...func(*Session)) *Session {
	s := &Session{
		id:         uuid.New().String(),
		identities: identity.New(),
		mode:       policy.DoNotResolve,
		sources:    map[string]Source{},
	}

	for _, option := range options {
		option(s)
	}

	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Identities() *identity.Map {
	return s.identities
}

func (s *Session) AddSource(source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources[source.ID()] = source
}

func (s *Session) source(providerID string) (Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source, ok := s.sources[providerID]
	if !ok {
		return nil, errors.NewUnknownProviderError(providerID)
	}

	return source, nil
}

// Stop asks running queries to end. It is checked between pages, a page that
// has been requested is always processed completely.
func (s *Session) Stop() {
	s.stopped.Store(true)
}

func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

// Restart clears the stop signal and forgets every entity from providerID,
// returning the number of forgotten entities.
func (s *Session) Restart(providerID string) int {
	s.stopped.Store(false)
	return s.identities.Forget(providerID)
}

func (s *Session) withLogger(ctx context.Context) context.Context {
	return logging.NewContextWithLogger(ctx, logging.GetFromContext(ctx), "session_id", s.id)
}

type queryOptions struct {
	pager pager.Pager
	mode  *policy.Mode
}

type QueryOption func(*queryOptions)

// WithPager overrides the pager configured for the entity type
func WithPager(pg pager.Pager) QueryOption {
	return func(o *queryOptions) {
		o.pager = pg
	}
}

func WithPolicy(mode policy.Mode) QueryOption {
	return func(o *queryOptions) {
		o.mode = &mode
	}
}

// RunQuery starts a query for entities of entityType. Nothing is fetched until
// the first call to Next on the returned query.
func (s *Session) RunQuery(ctx context.Context, providerID, entityType string, query transport.Query, options ...QueryOption) (*Query, error) {
	source, err := s.source(providerID)
	if err != nil {
		return nil, err
	}

	opts := queryOptions{}
	for _, option := range options {
		option(&opts)
	}

	mode := s.mode
	if opts.mode != nil {
		mode = *opts.mode
	}

	stream, err := source.OpenStream(entityType, query, opts.pager)
	if err != nil {
		return nil, err
	}

	engine := policy.NewEngine(mode)

	logging.GetFromContext(s.withLogger(ctx)).Debug("starting query",
		"provider", providerID, "type", entityType, "policy", mode.String())

	return &Query{
		session:    s,
		source:     source,
		entityType: entityType,
		stream:     stream,
		engine:     engine,
		linker:     newLinker(s.identities, source, engine),
	}, nil
}

type QuerySpec struct {
	ProviderID string
	EntityType string
	Query      transport.Query
	Options    []QueryOption
}

// RunConcurrently runs independent queries in parallel against the identity
// map of the session. The callback may be called from several goroutines at
// once. The first error cancels the remaining queries.
func (s *Session) RunConcurrently(ctx context.Context, specs []QuerySpec, callback func(QuerySpec, entities.Entity) error) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, spec := range specs {
		g.Go(func() error {
			q, err := s.RunQuery(ctx, spec.ProviderID, spec.EntityType, spec.Query, spec.Options...)
			if err != nil {
				return err
			}

			for q.Next(ctx) {
				if callback == nil {
					continue
				}
				if err := callback(spec, q.Entity()); err != nil {
					return err
				}
			}

			return q.Err()
		})
	}

	return g.Wait()
}

// Resolve resolves the placeholder held by a relationship field of owner, if
// there is one, and returns the value of the field afterwards.
func Resolve(ctx context.Context, owner entities.Entity, field string) (entities.Relationship, error) {
	r, ok := owner.Relationship(field)
	if !ok {
		return entities.Null(), nil
	}

	p, ok := r.Placeholder()
	if !ok {
		return r, nil
	}

	d, ok := p.(deferred.Placeholder)
	if !ok {
		return r, nil
	}

	if err := d.Materialize(ctx); err != nil {
		return r, err
	}

	r, _ = owner.Relationship(field)
	return r, nil
}
