package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

var ErrBadResponse = fmt.Errorf("bad response")
var ErrInternal = fmt.Errorf("internal error")
var ErrNoMorePages = fmt.Errorf("no more pages")
var ErrNotFound = fmt.Errorf("not found")
var ErrPagerConfiguration = fmt.Errorf("pager configuration error")
var ErrResolution = fmt.Errorf("resolution error")
var ErrStopped = fmt.Errorf("session stopped")
var ErrTransport = fmt.Errorf("transport error")
var ErrUnknownEntityType = fmt.Errorf("unknown entity type")
var ErrUnknownProvider = fmt.Errorf("unknown provider")

type myError struct {
	msg    string
	target error
	cause  error
}

func (m myError) Error() string { return m.msg }

func (m myError) Is(target error) bool { return target == m.target }

func (m myError) Unwrap() error { return m.cause }

func NewBadResponseError(msg string, cause error) error {
	return &myError{
		msg:    msg,
		target: ErrBadResponse,
		cause:  cause,
	}
}

func NewNoMorePagesError() error {
	return &myError{
		msg:    "the last page has no next request",
		target: ErrNoMorePages,
	}
}

func NewNotFoundError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrNotFound,
	}
}

func NewPagerConfigurationError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrPagerConfiguration,
	}
}

// NewResolutionError wraps the reason a placeholder could not be resolved. The
// returned error matches both ErrResolution and whatever the cause matches.
func NewResolutionError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}

	return &myError{
		msg:    msg,
		target: ErrResolution,
		cause:  cause,
	}
}

func NewStoppedError() error {
	return &myError{
		msg:    "the session was stopped before the query completed",
		target: ErrStopped,
	}
}

func NewUnknownEntityTypeError(provider, entityType string) error {
	return &myError{
		msg:    fmt.Sprintf("provider \"%s\" has no entity type \"%s\"", provider, entityType),
		target: ErrUnknownEntityType,
	}
}

func NewUnknownProviderError(provider string) error {
	return &myError{
		msg:    fmt.Sprintf("unknown provider \"%s\"", provider),
		target: ErrUnknownProvider,
	}
}

type TransportErrorKind int

const (
	// NetworkFailure means no response was received at all
	NetworkFailure TransportErrorKind = iota
	// StatusFailure means the backend answered with a non 2xx status code
	StatusFailure
)

func (k TransportErrorKind) String() string {
	if k == NetworkFailure {
		return "network failure"
	}
	return "status failure"
}

// TransportError is the single error kind surfaced by a transport
type TransportError struct {
	Kind       TransportErrorKind
	Method     string
	URL        string
	StatusCode int
	Detail     string
	Err        error
}

func (te *TransportError) Error() string {
	if te.Kind == NetworkFailure {
		return fmt.Sprintf("%s %s failed: %s", te.Method, te.URL, te.Err.Error())
	}

	if te.Detail != "" {
		return fmt.Sprintf("%s %s returned status code %d (%s)", te.Method, te.URL, te.StatusCode, te.Detail)
	}

	return fmt.Sprintf("%s %s returned status code %d", te.Method, te.URL, te.StatusCode)
}

func (te *TransportError) Is(target error) bool {
	if target == ErrTransport {
		return true
	}

	return target == ErrNotFound && te.Kind == StatusFailure && te.StatusCode == http.StatusNotFound
}

func (te *TransportError) Unwrap() error { return te.Err }

func NewNetworkError(method, url string, err error) error {
	return &TransportError{
		Kind:   NetworkFailure,
		Method: method,
		URL:    url,
		Err:    err,
	}
}

// NewErrorFromStatus creates a StatusFailure TransportError and tries to lift a
// human readable detail out of an RFC7807 problem report in the body.
func NewErrorFromStatus(method, url string, code int, contentType string, body []byte) error {
	te := &TransportError{
		Kind:       StatusFailure,
		Method:     method,
		URL:        url,
		StatusCode: code,
	}

	if contentType == ProblemReportContentType || len(body) > 0 && body[0] == '{' {
		report := &struct {
			Type   string `json:"type"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}{}

		if json.Unmarshal(body, report) == nil {
			te.Detail = report.Detail
			if te.Detail == "" {
				te.Detail = report.Title
			}
		}
	}

	return te
}

const (
	//ProblemReportContentType as required by https://tools.ietf.org/html/rfc7807
	ProblemReportContentType string = "application/problem+json"
)
