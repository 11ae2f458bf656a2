package entities

import (
	"fmt"
	"math"
	"strconv"
)

// Key is the identity of an entity within a session. An empty ID means that
// the entity has not been assigned an identity yet.
type Key struct {
	ProviderID string
	EntityType string
	ID         string
}

func NewKey(providerID, entityType string, id any) Key {
	return Key{
		ProviderID: providerID,
		EntityType: entityType,
		ID:         IDString(id),
	}
}

func (k Key) HasID() bool {
	return k.ID != ""
}

func (k Key) String() string {
	id := k.ID
	if id == "" {
		id = "<nil>"
	}
	return fmt.Sprintf("%s/%s/%s", k.ProviderID, k.EntityType, id)
}

// IDString normalizes a scalar id to its string form so that 5, 5.0 and "5"
// all address the same entity. Non scalar values and nil yield "".
func IDString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
