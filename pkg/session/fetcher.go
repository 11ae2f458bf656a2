package session

import (
	"context"

	"github.com/diwise/entity-sync/pkg/deferred"
	"github.com/diwise/entity-sync/pkg/entities"
)

// fetcher lets placeholders fetch through the source of a query. Everything it
// fetches is interned and linked like the records of a page.
type fetcher struct {
	linker *linker
}

var _ deferred.BatchFetcher = (*fetcher)(nil)

func (f *fetcher) FetchByID(ctx context.Context, entityType, id string) (entities.Entity, error) {
	doc, err := f.linker.source.FetchDocumentByID(ctx, entityType, id)
	if err != nil {
		return nil, err
	}

	ingested, err := f.linker.ingest(ctx, []*entities.Document{doc})
	if err != nil {
		return nil, err
	}

	return ingested[0], nil
}

func (f *fetcher) FetchByFilter(ctx context.Context, entityType string, filter entities.Filter) ([]entities.Entity, error) {
	docs, err := f.linker.source.FetchDocumentsByFilter(ctx, entityType, filter)
	if err != nil {
		return nil, err
	}

	return f.linker.ingest(ctx, docs)
}

func (f *fetcher) FetchByIDs(ctx context.Context, entityType string, ids []string) ([]entities.Entity, error) {
	docs, err := f.linker.source.FetchDocumentsByIDs(ctx, entityType, ids)
	if err != nil {
		return nil, err
	}

	return f.linker.ingest(ctx, docs)
}

func (f *fetcher) FetchByFieldValues(ctx context.Context, entityType, field string, values []string) ([]entities.Entity, error) {
	docs, err := f.linker.source.FetchDocumentsByFieldValues(ctx, entityType, field, values)
	if err != nil {
		return nil, err
	}

	return f.linker.ingest(ctx, docs)
}
