package pager

import (
	"encoding/json"
	"fmt"

	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/tidwall/gjson"
)

// Selector picks the records out of a response body
type Selector interface {
	Select(body []byte) ([]json.RawMessage, error)
}

type selectorFunc func(body []byte) ([]json.RawMessage, error)

func (f selectorFunc) Select(body []byte) ([]json.RawMessage, error) {
	return f(body)
}

// WholeBody treats a JSON array body as a list of records and an object body
// as a single record. An empty or null body holds no records.
func WholeBody() Selector {
	return selectorFunc(func(body []byte) ([]json.RawMessage, error) {
		if len(body) == 0 {
			return []json.RawMessage{}, nil
		}

		if !gjson.ValidBytes(body) {
			return nil, errors.NewBadResponseError("response body is not valid json", nil)
		}

		return recordsFrom(gjson.ParseBytes(body))
	})
}

// Field selects the records found at a gjson path, such as "value" or
// "data.items". A path that does not exist yields no records.
func Field(path string) Selector {
	return selectorFunc(func(body []byte) ([]json.RawMessage, error) {
		if len(body) == 0 {
			return []json.RawMessage{}, nil
		}

		if !gjson.ValidBytes(body) {
			return nil, errors.NewBadResponseError("response body is not valid json", nil)
		}

		result := gjson.GetBytes(body, path)
		if !result.Exists() {
			return []json.RawMessage{}, nil
		}

		records, err := recordsFrom(result)
		if err != nil {
			return nil, fmt.Errorf("failed to select %q: %w", path, err)
		}

		return records, nil
	})
}

// Projection hands the body to fn, for backends whose records can not be
// addressed with a path.
func Projection(fn func(body []byte) ([]json.RawMessage, error)) Selector {
	return selectorFunc(fn)
}

func recordsFrom(result gjson.Result) ([]json.RawMessage, error) {
	switch {
	case result.IsArray():
		elements := result.Array()
		records := make([]json.RawMessage, 0, len(elements))
		for _, e := range elements {
			records = append(records, json.RawMessage(e.Raw))
		}
		return records, nil
	case result.IsObject():
		return []json.RawMessage{json.RawMessage(result.Raw)}, nil
	case result.Type == gjson.Null:
		return []json.RawMessage{}, nil
	default:
		return nil, errors.NewBadResponseError(fmt.Sprintf("expected an array or an object, found %s", result.Type), nil)
	}
}
