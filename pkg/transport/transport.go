package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Transport sends a single request to a backend. Any non 2xx response is
// returned as an error matching errors.ErrTransport.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

type Request struct {
	Method  string
	URL     string
	Query   Query
	Headers http.Header
	Body    []byte
}

// NewRequest splits any query string out of rawURL into an ordered Query
func NewRequest(method, rawURL string) (Request, error) {
	base, rawQuery, _ := strings.Cut(rawURL, "?")

	q, err := ParseQuery(rawQuery)
	if err != nil {
		return Request{}, fmt.Errorf("failed to parse url %s: %w", rawURL, err)
	}

	return Request{
		Method:  method,
		URL:     base,
		Query:   q,
		Headers: http.Header{},
	}, nil
}

func (r Request) FullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	return r.URL + "?" + r.Query.Encode()
}

func (r Request) Clone() Request {
	c := Request{
		Method:  r.Method,
		URL:     r.URL,
		Query:   r.Query.Clone(),
		Headers: r.Headers.Clone(),
	}

	if r.Body != nil {
		c.Body = make([]byte, len(r.Body))
		copy(c.Body, r.Body)
	}

	return c
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}
