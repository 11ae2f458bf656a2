package provider

import (
	"strconv"
	"strings"
	"time"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/diwise/entity-sync/pkg/transport"
)

type QueryDecoratorFunc func(transport.Query) transport.Query

func NewQuery(decorators ...QueryDecoratorFunc) transport.Query {
	q := transport.Query{}
	for _, decorate := range decorators {
		q = decorate(q)
	}
	return q
}

func Param(key, value string) QueryDecoratorFunc {
	return func(q transport.Query) transport.Query {
		return q.With(key, value)
	}
}

// Where filters on a field. Several values are sent comma separated and match
// any of them.
func Where(field string, values ...string) QueryDecoratorFunc {
	return func(q transport.Query) transport.Query {
		return q.With(field, strings.Join(values, ","))
	}
}

func Matching(filter entities.Filter) QueryDecoratorFunc {
	return func(q transport.Query) transport.Query {
		for _, field := range filter.Fields() {
			q = q.With(field, filter[field])
		}
		return q
	}
}

func IDs(param string, ids []string) QueryDecoratorFunc {
	return Where(param, ids...)
}

func Attributes(attrs []string) QueryDecoratorFunc {
	return func(q transport.Query) transport.Query {
		return q.With("attrs", strings.Join(attrs, ","))
	}
}

func Limit(key string, count uint64) QueryDecoratorFunc {
	return func(q transport.Query) transport.Query {
		return q.With(key, strconv.FormatUint(count, 10))
	}
}

func After(key string, timeAt time.Time) QueryDecoratorFunc {
	return func(q transport.Query) transport.Query {
		return q.With(key, timeAt.UTC().Format(time.RFC3339))
	}
}
