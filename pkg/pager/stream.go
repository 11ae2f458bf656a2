package pager

import (
	"context"

	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/entity-sync/pkg/transport"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("entity-sync/pager")

var pagesFetchedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "entitysync",
	Name:      "pages_fetched_total",
	Help:      "The total number of pages fetched from backends.",
})

// Stream fetches the pages of one query, one at a time and in order
type Stream struct {
	transport transport.Transport
	pager     Pager

	next     transport.Request
	previous *Page
	done     bool

	// set when the request following the previous page could not be derived
	nextErr error
}

// NewStream prepares initial with the pager. The stream owns the pager state
// until the last page has been fetched.
func NewStream(t transport.Transport, p Pager, initial transport.Request) *Stream {
	return &Stream{
		transport: t,
		pager:     p,
		next:      p.PrepareInitialRequest(initial),
	}
}

func (s *Stream) Done() bool {
	return s.done
}

// Next sends the request for the following page and extracts it. Calling Next
// after the last page has been returned fails with errors.ErrNoMorePages. When
// the request following a page can not be derived the page is still returned
// and the failure is returned by the next call.
func (s *Stream) Next(ctx context.Context) (page *Page, err error) {
	if s.done {
		return nil, errors.NewNoMorePagesError()
	}

	if s.nextErr != nil {
		s.done = true
		return nil, s.nextErr
	}

	ctx, span := tracer.Start(ctx, "fetch-page",
		trace.WithAttributes(attribute.String("url", s.next.FullURL())),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	req := s.next

	resp, err := s.transport.Send(ctx, req)
	if err != nil {
		s.done = true
		return nil, err
	}

	page, err = s.pager.ExtractPage(resp, req, s.previous)
	if err != nil {
		s.done = true
		return nil, err
	}

	pagesFetchedCounter.Inc()

	logging.GetFromContext(ctx).Debug("fetched page",
		"url", req.FullURL(), "count", page.Len(), "count_so_far", page.EntityCountSoFar(), "last", page.IsLastPage())

	s.previous = page

	if page.IsLastPage() {
		s.done = true
		return page, nil
	}

	next, nextErr := page.NextRequest()
	if nextErr != nil {
		s.nextErr = nextErr
		return page, nil
	}
	s.next = next

	return page, nil
}
