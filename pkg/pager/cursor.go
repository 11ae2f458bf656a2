package pager

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/entity-sync/pkg/transport"
)

// CursorPager increments a query parameter after each page until the backend
// returns an empty or short page.
type CursorPager struct {
	cfg config

	initial transport.Query
	key     string
}

func NewCursorPager(options ...Option) *CursorPager {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &CursorPager{cfg: cfg}
}

func (p *CursorPager) Reset() {
	p.initial = nil
	p.key = ""
}

func (p *CursorPager) PrepareInitialRequest(req transport.Request) transport.Request {
	p.Reset()

	prepared := req.Clone()

	if p.cfg.cursorKey != "" && p.cfg.start != nil {
		if _, ok := prepared.Query.Get(p.cfg.cursorKey); !ok {
			prepared.Query = prepared.Query.With(p.cfg.cursorKey, strconv.Itoa(*p.cfg.start))
		}
	}

	if p.cfg.pageSizeKey != "" && p.cfg.pageSize > 0 {
		if _, ok := prepared.Query.Get(p.cfg.pageSizeKey); !ok {
			prepared.Query = prepared.Query.With(p.cfg.pageSizeKey, strconv.Itoa(p.cfg.pageSize))
		}
	}

	p.initial = prepared.Query.Clone()

	return prepared
}

func (p *CursorPager) ExtractPage(resp *transport.Response, req transport.Request, previous *Page) (*Page, error) {
	records, err := p.cfg.selector.Select(resp.Body)
	if err != nil {
		return nil, err
	}

	page := newPage(records, previous, totalCount(resp, p.cfg.totalCountHeader))

	if len(records) == 0 || (p.cfg.pageSize > 0 && len(records) < p.cfg.pageSize) {
		return page, nil
	}

	// the records of a page that can not be continued are still handed out,
	// the failure surfaces when the next page is requested
	key, err := p.cursorKey(req)
	if err != nil {
		return page.failContinuation(err), nil
	}

	raw, ok := req.Query.Get(key)
	if !ok {
		err = errors.NewPagerConfigurationError(fmt.Sprintf("cursor parameter %q is missing from the query", key))
		return page.failContinuation(err), nil
	}

	current, err := strconv.Atoi(raw)
	if err != nil {
		err = errors.NewPagerConfigurationError(fmt.Sprintf("cursor parameter %q has the non integer value %q", key, raw))
		return page.failContinuation(err), nil
	}

	next := req.Clone()
	next.Query = req.Query.With(key, strconv.Itoa(current+p.cfg.step))

	return page.continueWith(next), nil
}

// cursorKey returns the configured key or detects one the first time a
// continuation is needed. A detected key is kept until the pager is reset.
func (p *CursorPager) cursorKey(req transport.Request) (string, error) {
	if p.key != "" {
		return p.key, nil
	}

	if p.cfg.cursorKey != "" {
		p.key = p.cfg.cursorKey
		return p.key, nil
	}

	query := p.initial
	if query == nil {
		query = req.Query
	}

	for _, param := range query {
		if param.Key == p.cfg.pageSizeKey || slices.Contains(p.cfg.excluded, param.Key) {
			continue
		}
		if _, err := strconv.Atoi(param.Value); err == nil {
			p.key = param.Key
			return p.key, nil
		}
	}

	return "", errors.NewPagerConfigurationError("no cursor parameter configured and none of the query parameters has an integer value")
}
