package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"

	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	TraceAttributeMethod string = "http-method"
	TraceAttributeURL    string = "http-url"
)

var tracer = otel.Tracer("entity-sync/transport")

func Debug(enabled string) func(*httpTransport) {
	return func(t *httpTransport) {
		t.debug = (enabled == "true")
	}
}

// Retries sets how many times a request is retried on connection errors and
// 5xx responses. Retrying is left to the transport, callers never retry.
func Retries(count int) func(*httpTransport) {
	return func(t *httpTransport) {
		t.retries = count
	}
}

// Headers are added to every request sent through the transport
func Headers(headers map[string][]string) func(*httpTransport) {
	return func(t *httpTransport) {
		for header, values := range headers {
			for _, v := range values {
				t.headers.Add(header, v)
			}
		}
	}
}

func NewHTTPTransport(options ...func(*httpTransport)) Transport {
	t := &httpTransport{
		headers: http.Header{},
	}

	for _, option := range options {
		option(t)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	rc.RetryMax = t.retries
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	t.client = rc.StandardClient()

	return t
}

type httpTransport struct {
	client  *http.Client
	headers http.Header
	debug   bool
	retries int
}

func (t *httpTransport) Send(ctx context.Context, r Request) (*Response, error) {
	var err error

	endpoint := r.FullURL()

	ctx, span := tracer.Start(ctx, "send",
		trace.WithAttributes(attribute.String(TraceAttributeMethod, r.Method)),
		trace.WithAttributes(attribute.String(TraceAttributeURL, endpoint)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		err = fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrInternal)
		return nil, err
	}

	for header, headerValue := range t.headers {
		for _, val := range headerValue {
			req.Header.Add(header, val)
		}
	}

	for header, headerValue := range r.Headers {
		for _, val := range headerValue {
			req.Header.Add(header, val)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		err = errors.NewNetworkError(method, endpoint, err)
		return nil, err
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		err = errors.NewNetworkError(method, endpoint, fmt.Errorf("failed to read response body: %w", err))
		return nil, err
	}

	if t.debug && resp.StatusCode >= http.StatusBadRequest {
		reqbytes, _ := httputil.DumpRequest(req, false)
		respbytes, _ := httputil.DumpResponse(resp, false)

		log := logging.GetFromContext(ctx)
		log.Error("request failed", "request", string(reqbytes), "response", string(respbytes))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		err = errors.NewErrorFromStatus(method, endpoint, resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}
