// Package policy decides when placeholders are swapped for the entities they
// stand in for.
package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/diwise/entity-sync/pkg/deferred"
	"github.com/diwise/entity-sync/pkg/pager"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("entity-sync/policy")

type Mode int

const (
	// DoNotResolve leaves placeholders for the caller to resolve
	DoNotResolve Mode = iota
	// ResolveEarly resolves every placeholder as soon as it is created
	ResolveEarly
	// ResolveLate queues placeholders and resolves them together once the
	// last page of the owning query has been processed
	ResolveLate
)

func (m Mode) String() string {
	switch m {
	case ResolveEarly:
		return "RESOLVE_EARLY"
	case ResolveLate:
		return "RESOLVE_LATE"
	default:
		return "DO_NOT_RESOLVE"
	}
}

// ParseMode accepts the mode names in any case, with either dashes or
// underscores, i.e. "resolve-late" or "RESOLVE_LATE"
func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToUpper(s), "-", "_") {
	case "", "DO_NOT_RESOLVE":
		return DoNotResolve, nil
	case "RESOLVE_EARLY":
		return ResolveEarly, nil
	case "RESOLVE_LATE":
		return ResolveLate, nil
	}

	return DoNotResolve, fmt.Errorf("unknown deferral policy %q", s)
}

// Engine applies a mode to the placeholders created by one query. The mode is
// fixed for the lifetime of the engine.
type Engine struct {
	mode Mode

	mu     sync.Mutex
	queue  []deferred.Placeholder
	queued map[string]bool
}

func NewEngine(mode Mode) *Engine {
	return &Engine{
		mode:   mode,
		queued: map[string]bool{},
	}
}

func (e *Engine) Mode() Mode {
	return e.mode
}

// Track is called for every placeholder created on behalf of the query
func (e *Engine) Track(ctx context.Context, p deferred.Placeholder) error {
	switch e.mode {
	case ResolveEarly:
		return p.Materialize(ctx)
	case ResolveLate:
		e.enqueue(p)
	}

	return nil
}

func (e *Engine) enqueue(p deferred.Placeholder) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.IsResolved() || e.queued[p.Ref()] {
		return
	}

	e.queued[p.Ref()] = true
	e.queue = append(e.queue, p)
}

// Complete is called after each page has been processed. The queue is
// drained when the page is the last one of the stream.
func (e *Engine) Complete(ctx context.Context, page *pager.Page) error {
	if e.mode != ResolveLate || !page.IsLastPage() {
		return nil
	}

	return e.Drain(ctx)
}

// Drain resolves everything queued, including placeholders queued while
// draining. On failure the rest of the queue is dropped but entities that were
// resolved before the failure stay resolved.
func (e *Engine) Drain(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "drain",
		trace.WithAttributes(attribute.String("policy", e.mode.String())),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	for {
		batch := e.take()
		if len(batch) == 0 {
			return nil
		}

		log.Debug("resolving deferred placeholders", "count", len(batch))

		if err = deferred.ResolveAll(ctx, batch); err != nil {
			dropped := len(e.take())
			log.Error("failed to resolve deferred placeholders", "err", err.Error(), "dropped", dropped)
			return err
		}
	}
}

func (e *Engine) take() []deferred.Placeholder {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := e.queue
	e.queue = nil

	return batch
}

// Pending returns the number of queued placeholders
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.queue)
}
