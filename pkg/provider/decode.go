package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/diwise/entity-sync/pkg/entities"
	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/tidwall/gjson"
)

// Decode turns a raw record of entityType into a document. Record fields that
// are configured as relationships become links, all other fields except the
// id become attributes.
func (p *Provider) Decode(entityType string, raw json.RawMessage) (*entities.Document, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.NewBadResponseError(fmt.Sprintf("invalid %s record", entityType), nil)
	}

	return p.decode(p.typeConfig(entityType), gjson.ParseBytes(raw))
}

func (p *Provider) decode(t EntityTypeConfig, record gjson.Result) (*entities.Document, error) {
	if !record.IsObject() {
		return nil, errors.NewBadResponseError(fmt.Sprintf("expected a %s record to be an object, found %s", t.Type, record.Type), nil)
	}

	idField := t.idField()
	id := scalar(record.Get(idField))

	e := entities.New(p.id, t.Type, id)
	doc := &entities.Document{Entity: e}

	relationshipFields := map[string]bool{}
	for _, r := range t.Relationships {
		if r.Field != "" {
			relationshipFields[r.Field] = true
		}
	}

	record.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name != idField && !relationshipFields[name] {
			e.SetAttribute(name, value.Value())
		}
		return true
	})

	for _, r := range t.Relationships {
		link, err := p.link(r, record, id)
		if err != nil {
			return nil, fmt.Errorf("failed to decode relationship %s of %s %s: %w", r.Name, t.Type, id, err)
		}

		if link == nil {
			e.SetRelationship(r.Name, entities.Null())
			continue
		}

		doc.Links = append(doc.Links, *link)
	}

	return doc, nil
}

func (p *Provider) link(r RelationshipConfig, record gjson.Result, ownerID string) (*entities.Link, error) {
	if r.Field != "" {
		v := record.Get(r.Field)

		switch {
		case !v.Exists() || v.Type == gjson.Null:
			if len(r.Filter) == 0 {
				return nil, nil
			}
		case v.IsObject():
			embedded, err := p.decode(p.typeConfig(r.Type), v)
			if err != nil {
				return nil, err
			}
			return &entities.Link{Field: r.Name, Kind: entities.LinkEmbedded, TargetType: r.Type, Embedded: []*entities.Document{embedded}}, nil
		case v.IsArray():
			embedded := []*entities.Document{}
			for _, element := range v.Array() {
				if !element.IsObject() {
					return nil, errors.NewBadResponseError("arrays of related entities must hold objects", nil)
				}
				d, err := p.decode(p.typeConfig(r.Type), element)
				if err != nil {
					return nil, err
				}
				embedded = append(embedded, d)
			}
			return &entities.Link{Field: r.Name, Kind: entities.LinkEmbedded, TargetType: r.Type, Embedded: embedded, Many: true}, nil
		default:
			id := scalar(v)
			if id == "" {
				return nil, errors.NewBadResponseError(fmt.Sprintf("field %s does not hold an id", r.Field), nil)
			}
			return &entities.Link{Field: r.Name, Kind: entities.LinkByID, TargetType: r.Type, Target: entities.NewKey(p.id, r.Type, id)}, nil
		}
	}

	filter := entities.Filter{}

	for field, template := range r.Filter {
		value, ok := expand(template, record, ownerID)
		if !ok {
			return nil, nil
		}
		filter[field] = value
	}

	return &entities.Link{Field: r.Name, Kind: entities.LinkByFilter, TargetType: r.Type, Filter: filter, Many: true}, nil
}

// expand replaces "{id}" with the owner id and "{name}" with the value of the
// record field name. Other templates are literal values.
func expand(template string, record gjson.Result, ownerID string) (string, bool) {
	if !strings.HasPrefix(template, "{") || !strings.HasSuffix(template, "}") {
		return template, true
	}

	name := strings.TrimSuffix(strings.TrimPrefix(template, "{"), "}")
	if name == "id" {
		return ownerID, ownerID != ""
	}

	value := scalar(record.Get(name))
	return value, value != ""
}

// scalar returns the string form of a string or number, keeping integers
// exactly as written.
func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		if _, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return v.Raw
		}
		return entities.IDString(v.Num)
	default:
		return ""
	}
}
