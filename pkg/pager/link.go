package pager

import (
	"fmt"
	"net/url"

	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/entity-sync/pkg/transport"
	"github.com/tidwall/gjson"
)

const (
	DefaultVersionHeader string = "OData-Version"

	// ODataV4 is the version header value that selects the v4 link field
	ODataV4 string = "4.0"

	ODataV4NextLink     string = "@odata.nextLink"
	ODataLegacyNextLink string = "odata.nextLink"
)

// LinkPager follows a next page link read from the response body
type LinkPager struct {
	cfg config
}

func NewLinkPager(options ...Option) *LinkPager {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &LinkPager{cfg: cfg}
}

func (p *LinkPager) PrepareInitialRequest(req transport.Request) transport.Request {
	return req.Clone()
}

func (p *LinkPager) Reset() {}

func (p *LinkPager) ExtractPage(resp *transport.Response, req transport.Request, previous *Page) (*Page, error) {
	records, err := p.cfg.selector.Select(resp.Body)
	if err != nil {
		return nil, err
	}

	page := newPage(records, previous, totalCount(resp, p.cfg.totalCountHeader))

	link := nextLink(resp.Body, p.linkField(resp))
	if link == "" {
		return page, nil
	}

	next, err := resolveLink(req, link)
	if err != nil {
		return nil, err
	}

	return page.continueWith(next), nil
}

func (p *LinkPager) linkField(resp *transport.Response) string {
	if p.cfg.nextLinkField != "" {
		return p.cfg.nextLinkField
	}

	if resp.Headers != nil && resp.Headers.Get(p.cfg.versionHeader) == ODataV4 {
		return ODataV4NextLink
	}

	return ODataLegacyNextLink
}

// nextLink looks the field up among the top level keys only. Field names such
// as "@odata.nextLink" contain dots and can not be used as a gjson path.
func nextLink(body []byte, field string) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return ""
	}

	link := ""
	root.ForEach(func(key, value gjson.Result) bool {
		if key.String() != field {
			return true
		}
		if value.Type == gjson.String {
			link = value.String()
		}
		return false
	})

	return link
}

func resolveLink(req transport.Request, link string) (transport.Request, error) {
	base, err := url.Parse(req.FullURL())
	if err != nil {
		return transport.Request{}, errors.NewBadResponseError(fmt.Sprintf("failed to parse request url %s", req.FullURL()), err)
	}

	ref, err := url.Parse(link)
	if err != nil {
		return transport.Request{}, errors.NewBadResponseError(fmt.Sprintf("invalid next link %q", link), err)
	}

	next, err := transport.NewRequest(req.Method, base.ResolveReference(ref).String())
	if err != nil {
		return transport.Request{}, errors.NewBadResponseError(fmt.Sprintf("invalid next link %q", link), err)
	}

	next.Headers = req.Headers.Clone()
	if req.Body != nil {
		next.Body = make([]byte, len(req.Body))
		copy(next.Body, req.Body)
	}

	return next, nil
}
