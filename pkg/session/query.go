package session

import (
	"context"
	"iter"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/entity-sync/pkg/pager"
	"github.com/diwise/entity-sync/pkg/policy"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("entity-sync/session")

// Query yields the entities of a paged query one at a time. It is single pass
// and must not be used from more than one goroutine.
//
//	for q.Next(ctx) {
//		e := q.Entity()
//	}
//	if err := q.Err(); err != nil {
//		...
//	}
type Query struct {
	session    *Session
	source     Source
	entityType string
	stream     *pager.Stream
	engine     *policy.Engine
	linker     *linker

	page    *pager.Page
	buffer  []entities.Entity
	current entities.Entity
	err     error
	done    bool
}

// Next advances to the following entity, fetching the next page when the
// current one has been consumed. Placeholders queued by RESOLVE_LATE are
// resolved once every entity of the last page has been handed out, so the
// entities are complete when Next returns false.
func (q *Query) Next(ctx context.Context) bool {
	if q.err != nil || q.done {
		return false
	}

	for {
		if len(q.buffer) > 0 {
			q.current = q.buffer[0]
			q.buffer = q.buffer[1:]
			return true
		}

		q.current = nil

		if q.page != nil {
			page := q.page
			q.page = nil

			if err := q.engine.Complete(q.session.withLogger(ctx), page); err != nil {
				q.err = err
				return false
			}
		}

		if q.stream.Done() {
			q.done = true
			return false
		}

		if q.session.Stopped() {
			q.err = errors.NewStoppedError()
			return false
		}

		if err := q.fetchPage(ctx); err != nil {
			q.err = err
			return false
		}
	}
}

func (q *Query) fetchPage(ctx context.Context) (err error) {
	ctx, span := tracer.Start(q.session.withLogger(ctx), "query-page",
		trace.WithAttributes(attribute.String("provider", q.source.ID())),
		trace.WithAttributes(attribute.String("entity-type", q.entityType)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	page, err := q.stream.Next(ctx)
	if err != nil {
		logging.GetFromContext(ctx).Error("failed to fetch page", "type", q.entityType, "err", err.Error())
		return err
	}

	docs := make([]*entities.Document, 0, page.Len())

	for _, record := range page.Records() {
		doc, err := q.source.Decode(q.entityType, record)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	q.buffer, err = q.linker.ingest(ctx, docs)
	if err != nil {
		return err
	}

	q.page = page

	return nil
}

func (q *Query) Entity() entities.Entity {
	return q.current
}

func (q *Query) Err() error {
	return q.err
}

// Pending returns the number of placeholders waiting for the last page
func (q *Query) Pending() int {
	return q.engine.Pending()
}

// All returns an iterator over the remaining entities. A failure is yielded
// as the last element together with a nil entity.
func (q *Query) All(ctx context.Context) iter.Seq2[entities.Entity, error] {
	return func(yield func(entities.Entity, error) bool) {
		for q.Next(ctx) {
			if !yield(q.Entity(), nil) {
				return
			}
		}

		if err := q.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Collect drains the query
func (q *Query) Collect(ctx context.Context) ([]entities.Entity, error) {
	result := []entities.Entity{}

	for q.Next(ctx) {
		result = append(result, q.Entity())
	}

	return result, q.Err()
}
