package transport

import (
	"fmt"
	"net/url"
	"strings"
)

type Param struct {
	Key   string
	Value string
}

// Query is an ordered list of query parameters. Unlike url.Values it keeps
// the order in which parameters were given.
type Query []Param

func (q Query) Get(key string) (string, bool) {
	for _, p := range q {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// With returns a copy of q where the first parameter named key has been
// given value, or where key=value has been appended if there was none.
func (q Query) With(key, value string) Query {
	c := q.Clone()
	for i := range c {
		if c[i].Key == key {
			c[i].Value = value
			return c
		}
	}
	return append(c, Param{Key: key, Value: value})
}

func (q Query) Keys() []string {
	keys := make([]string, 0, len(q))
	for _, p := range q {
		keys = append(keys, p.Key)
	}
	return keys
}

func (q Query) Clone() Query {
	if q == nil {
		return nil
	}
	c := make(Query, len(q))
	copy(c, q)
	return c
}

func (q Query) Encode() string {
	parts := make([]string, 0, len(q))
	for _, p := range q {
		parts = append(parts, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	return strings.Join(parts, "&")
}

// ParseQuery parses a raw query string and keeps parameter order
func ParseQuery(raw string) (Query, error) {
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return Query{}, nil
	}

	q := Query{}

	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}

		k, v, _ := strings.Cut(part, "=")

		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("invalid query parameter name %q: %w", k, err)
		}

		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for query parameter %q: %w", key, err)
		}

		q = append(q, Param{Key: key, Value: value})
	}

	return q, nil
}
