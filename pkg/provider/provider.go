// Package provider fetches and decodes entities from an HTTP backend described
// by configuration.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/entity-sync/pkg/pager"
	"github.com/diwise/entity-sync/pkg/transport"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	TraceAttributeProvider   string = "provider"
	TraceAttributeEntityType string = "entity-type"
	TraceAttributeEntityID   string = "entity-id"
)

var tracer = otel.Tracer("entity-sync/provider")

var sharedFetchCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "entitysync",
	Name:      "shared_fetches_total",
	Help:      "The total number of fetches by id answered by an identical fetch already in flight.",
})

type Provider struct {
	id        string
	endpoint  string
	headers   http.Header
	types     map[string]EntityTypeConfig
	transport transport.Transport

	inflight singleflight.Group
}

func WithTransport(t transport.Transport) func(*Provider) {
	return func(p *Provider) {
		p.transport = t
	}
}

// Headers are sent with every request made by the provider
func Headers(headers map[string][]string) func(*Provider) {
	return func(p *Provider) {
		for header, values := range headers {
			for _, v := range values {
				p.headers.Add(header, v)
			}
		}
	}
}

func New(cfg ProviderConfig, options ...func(*Provider)) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		id:       cfg.ID,
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		headers:  http.Header{},
		types:    map[string]EntityTypeConfig{},
	}

	for _, t := range cfg.Types {
		p.types[t.Type] = t
	}

	Headers(cfg.Headers)(p)

	for _, option := range options {
		option(p)
	}

	if p.transport == nil {
		p.transport = transport.NewHTTPTransport()
	}

	return p, nil
}

// NewFromConfig creates every configured provider, all sharing one transport
func NewFromConfig(cfg *Config, t transport.Transport) ([]*Provider, error) {
	providers := make([]*Provider, 0, len(cfg.Providers))

	for _, pc := range cfg.Providers {
		p, err := New(pc, WithTransport(t))
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	return providers, nil
}

func (p *Provider) ID() string {
	return p.id
}

func (p *Provider) typeConfig(entityType string) EntityTypeConfig {
	if t, ok := p.types[entityType]; ok {
		return t
	}
	return EntityTypeConfig{Type: entityType}
}

func (p *Provider) entityType(entityType string) (EntityTypeConfig, error) {
	t, ok := p.types[entityType]
	if !ok {
		return EntityTypeConfig{}, errors.NewUnknownEntityTypeError(p.id, entityType)
	}
	return t, nil
}

func (p *Provider) request(path string, query transport.Query) transport.Request {
	return transport.Request{
		Method:  http.MethodGet,
		URL:     p.endpoint + path,
		Query:   query.Clone(),
		Headers: p.headers.Clone(),
	}
}

// OpenStream starts a paged query against the collection of entityType. When
// pg is nil a pager with fresh state is created from the type configuration.
func (p *Provider) OpenStream(entityType string, query transport.Query, pg pager.Pager) (*pager.Stream, error) {
	t, err := p.entityType(entityType)
	if err != nil {
		return nil, err
	}

	if pg == nil {
		pg, err = t.Pager.NewPager()
		if err != nil {
			return nil, err
		}
	}

	return pager.NewStream(p.transport, pg, p.request(t.Path, query)), nil
}

// FetchDocumentByID retrieves a single record. Concurrent fetches of the same
// entity share a single request, but every caller decodes its own document.
func (p *Provider) FetchDocumentByID(ctx context.Context, entityType, id string) (*entities.Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "fetch-by-id",
		trace.WithAttributes(attribute.String(TraceAttributeProvider, p.id)),
		trace.WithAttributes(attribute.String(TraceAttributeEntityType, entityType)),
		trace.WithAttributes(attribute.String(TraceAttributeEntityID, id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	t, err := p.entityType(entityType)
	if err != nil {
		return nil, err
	}

	path := strings.ReplaceAll(t.byIDPath(), "{id}", url.PathEscape(id))

	body, err, shared := p.inflight.Do(entityType+"/"+id, func() (any, error) {
		resp, err := p.transport.Send(ctx, p.request(path, nil))
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		sharedFetchCounter.Inc()
	}

	records, err := pager.WholeBody().Select(body.([]byte))
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		err = errors.NewNotFoundError(fmt.Sprintf("no %s with id %s", entityType, id))
		return nil, err
	}

	doc, err := p.decode(t, gjson.ParseBytes(records[0]))
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// FetchDocumentsByFilter reads every page of the collection of entityType
// that matches filter.
func (p *Provider) FetchDocumentsByFilter(ctx context.Context, entityType string, filter entities.Filter) ([]*entities.Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "fetch-by-filter",
		trace.WithAttributes(attribute.String(TraceAttributeProvider, p.id)),
		trace.WithAttributes(attribute.String(TraceAttributeEntityType, entityType)),
		trace.WithAttributes(attribute.String("filter", filter.String())),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	docs, err := p.collect(ctx, entityType, NewQuery(Matching(filter)))
	return docs, err
}

// FetchDocumentsByIDs uses the ids parameter of the entity type if there is
// one, and otherwise fetches the entities one by one.
func (p *Provider) FetchDocumentsByIDs(ctx context.Context, entityType string, ids []string) ([]*entities.Document, error) {
	t, err := p.entityType(entityType)
	if err != nil {
		return nil, err
	}

	if t.IDsParam != "" {
		return p.collect(ctx, entityType, NewQuery(IDs(t.IDsParam, ids)))
	}

	docs := make([]*entities.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := p.FetchDocumentByID(ctx, entityType, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// FetchDocumentsByFieldValues returns the entities whose field holds any of
// values. When the entity type does not allow batched filters one filtered
// fetch is made per value.
func (p *Provider) FetchDocumentsByFieldValues(ctx context.Context, entityType, field string, values []string) ([]*entities.Document, error) {
	t, err := p.entityType(entityType)
	if err != nil {
		return nil, err
	}

	if t.BatchFilters {
		return p.collect(ctx, entityType, NewQuery(Where(field, values...)))
	}

	docs := []*entities.Document{}
	for _, v := range values {
		found, err := p.FetchDocumentsByFilter(ctx, entityType, entities.Filter{field: v})
		if err != nil {
			return nil, err
		}
		docs = append(docs, found...)
	}

	return docs, nil
}

// collect reads every page of a query built by the provider itself. The
// parameters of that query select what is fetched and are never taken for a
// cursor.
func (p *Provider) collect(ctx context.Context, entityType string, query transport.Query) ([]*entities.Document, error) {
	t, err := p.entityType(entityType)
	if err != nil {
		return nil, err
	}

	pg, err := t.Pager.NewPager(pager.ExcludeFromDetection(query.Keys()...))
	if err != nil {
		return nil, err
	}

	stream, err := p.OpenStream(entityType, query, pg)
	if err != nil {
		return nil, err
	}

	docs := []*entities.Document{}

	for !stream.Done() {
		page, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}

		for _, record := range page.Records() {
			doc, err := p.Decode(entityType, record)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}

	logging.GetFromContext(ctx).Debug("collected documents", "provider", p.id, "type", entityType, "count", len(docs))

	return docs, nil
}
