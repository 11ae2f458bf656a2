package pager

import (
	"encoding/json"

	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/entity-sync/pkg/transport"
)

// Page is the immutable result of extracting one backend response
type Page struct {
	records    []json.RawMessage
	isLastPage bool
	countSoFar int
	totalCount int
	next       *transport.Request
	nextErr    error
}

func newPage(records []json.RawMessage, previous *Page, totalCount int) *Page {
	p := &Page{
		records:    records,
		countSoFar: len(records),
		totalCount: totalCount,
		isLastPage: true,
	}

	if previous != nil {
		p.countSoFar += previous.countSoFar
	}

	return p
}

func (p *Page) continueWith(next transport.Request) *Page {
	p.isLastPage = false
	p.next = &next
	return p
}

// failContinuation marks a page that is not the last one but whose next
// request could not be derived.
func (p *Page) failContinuation(err error) *Page {
	p.isLastPage = false
	p.nextErr = err
	return p
}

// Records returns the raw records selected from the response body
func (p *Page) Records() []json.RawMessage {
	records := make([]json.RawMessage, len(p.records))
	copy(records, p.records)
	return records
}

func (p *Page) Len() int {
	return len(p.records)
}

func (p *Page) IsLastPage() bool {
	return p.isLastPage
}

// EntityCountSoFar is the number of records on this page and all pages before it
func (p *Page) EntityCountSoFar() int {
	return p.countSoFar
}

// TotalCount is the total number of entities reported by the backend, or -1
// if the backend did not report one.
func (p *Page) TotalCount() int {
	return p.totalCount
}

// NextRequest describes the request for the following page. Asking the last
// page for its next request is an error matching errors.ErrNoMorePages.
func (p *Page) NextRequest() (transport.Request, error) {
	if p.nextErr != nil {
		return transport.Request{}, p.nextErr
	}
	if p.isLastPage || p.next == nil {
		return transport.Request{}, errors.NewNoMorePagesError()
	}
	return p.next.Clone(), nil
}
