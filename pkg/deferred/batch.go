package deferred

import (
	"context"
	"fmt"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("entity-sync/deferred")

var batchFetchCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "entitysync",
	Name:      "batch_fetches_total",
	Help:      "The total number of fetches that resolved more than one placeholder at once.",
})

type group struct {
	providerID string
	entityType string
	field      string
	single     []*Entity
	collection []*Relationship
	other      []Placeholder
}

// ResolveAll resolves a set of placeholders in the order given, coalescing
// placeholders of the same provider and type into single fetches when their
// fetcher is a BatchFetcher. It stops at the first failure, leaving anything
// resolved before that in place.
func ResolveAll(ctx context.Context, placeholders []Placeholder) (err error) {
	ctx, span := tracer.Start(ctx, "resolve-all",
		trace.WithAttributes(attribute.Int("count", len(placeholders))),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	for _, g := range groupPlaceholders(placeholders) {
		switch {
		case len(g.single) > 0:
			err = resolveEntities(ctx, g.single)
		case len(g.collection) > 0:
			err = resolveRelationships(ctx, g.field, g.collection)
		default:
			for _, p := range g.other {
				if err = p.Materialize(ctx); err != nil {
					break
				}
			}
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func groupPlaceholders(placeholders []Placeholder) []*group {
	groups := []*group{}
	index := map[string]*group{}

	lookup := func(kind, providerID, entityType, field string) *group {
		k := fmt.Sprintf("%s|%s|%s|%s", kind, providerID, entityType, field)
		g, ok := index[k]
		if !ok {
			g = &group{providerID: providerID, entityType: entityType, field: field}
			index[k] = g
			groups = append(groups, g)
		}
		return g
	}

	seen := map[string]bool{}

	for _, p := range placeholders {
		if p.IsResolved() || seen[p.Ref()] {
			continue
		}
		seen[p.Ref()] = true

		switch d := p.(type) {
		case *Entity:
			g := lookup("entity", d.ProviderID(), d.TargetType(), "")
			g.single = append(g.single, d)
		case *Relationship:
			field := ""
			if len(d.filter) == 1 {
				field = d.filter.Fields()[0]
			}

			if field == "" {
				g := lookup("other", d.ProviderID(), d.TargetType(), d.Ref())
				g.other = append(g.other, d)
				continue
			}

			g := lookup("collection", d.ProviderID(), d.TargetType(), field)
			g.collection = append(g.collection, d)
		default:
			g := lookup("other", p.ProviderID(), p.TargetType(), p.Ref())
			g.other = append(g.other, p)
		}
	}

	return groups
}

func resolveEntities(ctx context.Context, placeholders []*Entity) error {
	pending := []*Entity{}

	for _, d := range placeholders {
		if e, ok := d.interner.Lookup(d.key); ok {
			d.resolveWith(e)
			continue
		}
		pending = append(pending, d)
	}

	batcher, ok := placeholders[0].fetcher.(BatchFetcher)
	if !ok || len(pending) < 2 {
		for _, d := range pending {
			if err := d.Materialize(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	ids := make([]string, 0, len(pending))
	for _, d := range pending {
		ids = append(ids, d.key.ID)
	}

	entityType := pending[0].key.EntityType

	fetched, err := batcher.FetchByIDs(ctx, entityType, ids)
	if err != nil {
		return errors.NewResolutionError(fmt.Sprintf("failed to resolve %d %s entities", len(ids), entityType), err)
	}

	batchFetchCounter.Inc()

	byID := map[string]entities.Entity{}
	for _, e := range fetched {
		if e != nil {
			byID[e.ID()] = e
		}
	}

	var missing []string

	for _, d := range pending {
		e, ok := byID[d.key.ID]
		if !ok {
			missing = append(missing, d.key.ID)
			continue
		}
		d.resolveWith(d.interner.Intern(d.key, e))
	}

	if len(missing) > 0 {
		return errors.NewResolutionError(
			fmt.Sprintf("failed to resolve all %s entities", entityType),
			errors.NewNotFoundError(fmt.Sprintf("no %s with ids %v", entityType, missing)),
		)
	}

	logging.GetFromContext(ctx).Debug("resolved entities in one batch", "type", entityType, "count", len(pending))

	return nil
}

func resolveRelationships(ctx context.Context, field string, placeholders []*Relationship) error {
	batcher, ok := placeholders[0].fetcher.(BatchFetcher)
	if !ok || len(placeholders) < 2 {
		for _, d := range placeholders {
			if err := d.Materialize(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	values := make([]string, 0, len(placeholders))
	for _, d := range placeholders {
		values = append(values, d.filter[field])
	}

	entityType := placeholders[0].entityType

	fetched, err := batcher.FetchByFieldValues(ctx, entityType, field, values)
	if err != nil {
		return errors.NewResolutionError(fmt.Sprintf("failed to resolve %s where %s in %v", entityType, field, values), err)
	}

	batchFetchCounter.Inc()

	for _, d := range placeholders {
		matching := []entities.Entity{}
		for _, e := range fetched {
			if e != nil && d.filter.Matches(e) {
				matching = append(matching, e)
			}
		}

		collection, err := d.intern(matching)
		if err != nil {
			return err
		}

		d.resolveWith(collection)
	}

	logging.GetFromContext(ctx).Debug("resolved relationships in one batch", "type", entityType, "field", field, "count", len(placeholders))

	return nil
}
