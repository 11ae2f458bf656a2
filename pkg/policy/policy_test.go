package policy

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/diwise/entity-sync/pkg/deferred"
	"github.com/diwise/entity-sync/pkg/entities"
	syncerrors "github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/entity-sync/pkg/pager"
	"github.com/diwise/entity-sync/pkg/transport"
	"github.com/matryer/is"
)

func TestParseMode(t *testing.T) {
	is := is.New(t)

	m, err := ParseMode("resolve-late")
	is.NoErr(err)
	is.Equal(m, ResolveLate)

	m, err = ParseMode("RESOLVE_EARLY")
	is.NoErr(err)
	is.Equal(m, ResolveEarly)

	m, err = ParseMode("")
	is.NoErr(err)
	is.Equal(m, DoNotResolve)

	_, err = ParseMode("sometimes")
	is.True(err != nil)
}

func TestDoNotResolveLeavesPlaceholders(t *testing.T) {
	is := is.New(t)

	p := &fakePlaceholder{ref: "a"}
	e := NewEngine(DoNotResolve)

	is.NoErr(e.Track(context.Background(), p))
	is.NoErr(e.Complete(context.Background(), lastPage(t)))

	is.Equal(p.materialized, 0)
	is.Equal(e.Pending(), 0)
}

func TestResolveEarlyResolvesOnTrack(t *testing.T) {
	is := is.New(t)

	p := &fakePlaceholder{ref: "a"}
	e := NewEngine(ResolveEarly)

	is.NoErr(e.Track(context.Background(), p))
	is.Equal(p.materialized, 1)
	is.Equal(e.Pending(), 0)
}

func TestResolveEarlyReportsFailure(t *testing.T) {
	is := is.New(t)

	p := &fakePlaceholder{ref: "a", err: syncerrors.NewResolutionError("nope", nil)}

	err := NewEngine(ResolveEarly).Track(context.Background(), p)
	is.True(errors.Is(err, syncerrors.ErrResolution))
}

func TestResolveLateWaitsForLastPage(t *testing.T) {
	is := is.New(t)

	a := &fakePlaceholder{ref: "a"}
	b := &fakePlaceholder{ref: "b"}

	e := NewEngine(ResolveLate)

	is.NoErr(e.Track(context.Background(), a))
	is.NoErr(e.Track(context.Background(), b))
	is.NoErr(e.Track(context.Background(), &fakePlaceholder{ref: "a"})) // same reference is queued once
	is.Equal(e.Pending(), 2)

	is.NoErr(e.Complete(context.Background(), firstPage(t)))
	is.Equal(a.materialized, 0)

	is.NoErr(e.Complete(context.Background(), lastPage(t)))
	is.Equal(a.materialized, 1)
	is.Equal(b.materialized, 1)
	is.Equal(e.Pending(), 0)
}

func TestDrainIncludesPlaceholdersQueuedWhileDraining(t *testing.T) {
	is := is.New(t)

	e := NewEngine(ResolveLate)

	nested := &fakePlaceholder{ref: "nested"}
	outer := &fakePlaceholder{ref: "outer"}
	outer.onMaterialize = func(ctx context.Context) error {
		return e.Track(ctx, nested)
	}

	is.NoErr(e.Track(context.Background(), outer))
	is.NoErr(e.Drain(context.Background()))

	is.Equal(nested.materialized, 1)
}

func TestDrainStopsAndClearsOnFailure(t *testing.T) {
	is := is.New(t)

	ok := &fakePlaceholder{ref: "a"}
	failing := &fakePlaceholder{ref: "b", err: syncerrors.NewResolutionError("nope", nil)}
	never := &fakePlaceholder{ref: "c"}

	e := NewEngine(ResolveLate)
	is.NoErr(e.Track(context.Background(), ok))
	is.NoErr(e.Track(context.Background(), failing))
	is.NoErr(e.Track(context.Background(), never))

	err := e.Drain(context.Background())
	is.True(errors.Is(err, syncerrors.ErrResolution))

	is.Equal(ok.materialized, 1)
	is.Equal(never.materialized, 0)
	is.Equal(e.Pending(), 0)
}

func firstPage(t *testing.T) *pager.Page {
	return extract(t, `{"value":[{"id":1}],"next":"http://backend/users?page=2"}`)
}

func lastPage(t *testing.T) *pager.Page {
	return extract(t, `{"value":[{"id":1}]}`)
}

func extract(t *testing.T, body string) *pager.Page {
	p := pager.NewLinkPager(pager.NextLinkField("next"), pager.WithSelector(pager.Field("value")))
	req, _ := transport.NewRequest(http.MethodGet, "http://backend/users")

	page, err := p.ExtractPage(&transport.Response{StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(body)}, req, nil)
	if err != nil {
		t.Fatal(err)
	}

	return page
}

type fakePlaceholder struct {
	ref           string
	err           error
	materialized  int
	resolved      bool
	onMaterialize func(context.Context) error
}

var _ deferred.Placeholder = (*fakePlaceholder)(nil)

func (f *fakePlaceholder) TargetType() string                       { return "User" }
func (f *fakePlaceholder) IsCollection() bool                       { return false }
func (f *fakePlaceholder) IsResolved() bool                         { return f.resolved }
func (f *fakePlaceholder) Describe() map[string]any                 { return map[string]any{"id": f.ref} }
func (f *fakePlaceholder) Ref() string                              { return f.ref }
func (f *fakePlaceholder) ProviderID() string                       { return "blog" }
func (f *fakePlaceholder) Bind(owner entities.Binder, field string) {}

func (f *fakePlaceholder) Materialize(ctx context.Context) error {
	f.materialized++

	if f.err != nil {
		return f.err
	}

	if f.onMaterialize != nil {
		if err := f.onMaterialize(ctx); err != nil {
			return err
		}
	}

	f.resolved = true
	return nil
}
