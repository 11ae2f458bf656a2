// Package pager turns backend responses into pages and derives the request
// for the page that follows, using one of the supported continuation
// conventions.
package pager

import (
	"strconv"

	"github.com/diwise/entity-sync/pkg/transport"
)

// Pager holds the continuation state for a single query. PrepareInitialRequest
// starts a new query and discards any state left from a previous one.
type Pager interface {
	PrepareInitialRequest(req transport.Request) transport.Request
	ExtractPage(resp *transport.Response, req transport.Request, previous *Page) (*Page, error)
	Reset()
}

type config struct {
	selector         Selector
	totalCountHeader string

	// link following
	nextLinkField string
	versionHeader string

	// cursor increment
	cursorKey   string
	pageSize    int
	pageSizeKey string
	start       *int
	step        int
	excluded    []string
}

func defaultConfig() config {
	return config{
		selector:      WholeBody(),
		versionHeader: DefaultVersionHeader,
		step:          1,
	}
}

type Option func(*config)

func WithSelector(s Selector) Option {
	return func(c *config) {
		if s != nil {
			c.selector = s
		}
	}
}

// TotalCountHeader names a response header holding the total number of
// entities matching the query.
func TotalCountHeader(header string) Option {
	return func(c *config) {
		c.totalCountHeader = header
	}
}

// NextLinkField names the body field holding the next page link. When not set
// the field name is derived from the protocol version header.
func NextLinkField(field string) Option {
	return func(c *config) {
		c.nextLinkField = field
	}
}

func VersionHeader(header string) Option {
	return func(c *config) {
		c.versionHeader = header
	}
}

// CursorKey names the query parameter to increment. When not set the first
// integer valued parameter of the initial query is used.
func CursorKey(key string) Option {
	return func(c *config) {
		c.cursorKey = key
	}
}

// PageSize sets the threshold below which a page is considered the last one.
// When key is not empty the size is also sent to the backend as a parameter
// with that name, unless the initial query already has it.
func PageSize(size int, key string) Option {
	return func(c *config) {
		c.pageSize = size
		c.pageSizeKey = key
	}
}

// Start is added to the initial query when the configured cursor key is missing
func Start(value int) Option {
	return func(c *config) {
		c.start = &value
	}
}

// Step is what the cursor is incremented by after each page
func Step(step int) Option {
	return func(c *config) {
		if step != 0 {
			c.step = step
		}
	}
}

// ExcludeFromDetection keeps keys from being picked as the cursor when no
// cursor key is configured. Parameters that select what is fetched, such as
// filters, must never be incremented.
func ExcludeFromDetection(keys ...string) Option {
	return func(c *config) {
		c.excluded = append(c.excluded, keys...)
	}
}

func totalCount(resp *transport.Response, header string) int {
	if header == "" || resp.Headers == nil {
		return -1
	}

	n, err := strconv.Atoi(resp.Headers.Get(header))
	if err != nil {
		return -1
	}

	return n
}
