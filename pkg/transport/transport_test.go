package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	syncerrors "github.com/diwise/entity-sync/pkg/errors"
	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"
	"github.com/matryer/is"
)

var Expects = testutils.Expects
var Returns = testutils.Returns
var anyInput = expects.AnyInput
var method = expects.RequestMethod
var path = expects.RequestPath

func TestParseQueryKeepsOrder(t *testing.T) {
	is := is.New(t)

	q, err := ParseQuery("?z=1&a=two%20words&m=")
	is.NoErr(err)

	is.Equal(q, Query{{"z", "1"}, {"a", "two words"}, {"m", ""}})
	is.Equal(q.Encode(), "z=1&a=two+words&m=")
}

func TestQueryWithReplacesOrAppends(t *testing.T) {
	is := is.New(t)

	q := Query{{"page", "1"}, {"size", "10"}}

	next := q.With("page", "2")
	is.Equal(next, Query{{"page", "2"}, {"size", "10"}})
	is.Equal(q, Query{{"page", "1"}, {"size", "10"}}) // the original must be left untouched

	is.Equal(q.With("sort", "id"), Query{{"page", "1"}, {"size", "10"}, {"sort", "id"}})
}

func TestNewRequestSplitsQuery(t *testing.T) {
	is := is.New(t)

	r, err := NewRequest(http.MethodGet, "http://backend/users?b=2&a=1")
	is.NoErr(err)

	is.Equal(r.URL, "http://backend/users")
	is.Equal(r.Query, Query{{"b", "2"}, {"a", "1"}})
	is.Equal(r.FullURL(), "http://backend/users?b=2&a=1")
}

func TestSendReturnsBodyAndHeaders(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodGet),
			path("/users"),
			expects.QueryParamEquals("page", "1"),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`[{"id":1}]`)),
		),
	)
	defer s.Close()

	tr := NewHTTPTransport()

	resp, err := tr.Send(context.Background(), Request{
		Method: http.MethodGet,
		URL:    s.URL() + "/users",
		Query:  Query{{"page", "1"}},
	})

	is.NoErr(err)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(resp.Headers.Get("Content-Type"), "application/json")
	is.Equal(string(resp.Body), `[{"id":1}]`)
}

func TestSendReportsStatusFailureAsTransportError(t *testing.T) {
	is := is.New(t)

	b, _ := json.Marshal(map[string]string{
		"type":   "https://example.org/errors/ResourceNotFound",
		"title":  "Not Found",
		"detail": "no user with id 9",
	})

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/problem+json"),
			response.Code(http.StatusNotFound),
			response.Body(b),
		),
	)
	defer s.Close()

	_, err := NewHTTPTransport().Send(context.Background(), Request{URL: s.URL() + "/users/9"})

	is.True(err != nil)
	is.True(errors.Is(err, syncerrors.ErrTransport))
	is.True(errors.Is(err, syncerrors.ErrNotFound))

	var te *syncerrors.TransportError
	is.True(errors.As(err, &te))
	is.Equal(te.Kind, syncerrors.StatusFailure)
	is.Equal(te.StatusCode, http.StatusNotFound)
	is.Equal(te.Detail, "no user with id 9")
}

func TestSendReportsNetworkFailure(t *testing.T) {
	is := is.New(t)

	_, err := NewHTTPTransport().Send(context.Background(), Request{URL: "http://127.0.0.1:1/unreachable"})

	var te *syncerrors.TransportError
	is.True(errors.As(err, &te))
	is.Equal(te.Kind, syncerrors.NetworkFailure)
	is.True(!errors.Is(err, syncerrors.ErrNotFound)) // a network failure is never a not found
}
