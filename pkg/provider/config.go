package provider

import (
	"fmt"
	"io"

	"github.com/diwise/entity-sync/pkg/errors"
	"github.com/diwise/entity-sync/pkg/pager"
	yaml "gopkg.in/yaml.v2"
)

const (
	StrategyLink   string = "link"
	StrategyCursor string = "cursor"
)

type PagerConfig struct {
	Strategy         string `yaml:"strategy"`
	Selector         string `yaml:"selector"`
	TotalCountHeader string `yaml:"totalCountHeader"`

	NextLinkField string `yaml:"nextLinkField"`
	VersionHeader string `yaml:"versionHeader"`

	CursorKey   string `yaml:"cursorKey"`
	PageSize    int    `yaml:"pageSize"`
	PageSizeKey string `yaml:"pageSizeKey"`
	Start       *int   `yaml:"start"`
	Step        int    `yaml:"step"`
}

// NewPager creates a pager with fresh state. Without a strategy the link
// following pager is used, which treats a body without a next link as the
// only page. Any extra options are applied after the configured ones.
func (pc PagerConfig) NewPager(extra ...pager.Option) (pager.Pager, error) {
	options := []pager.Option{}

	if pc.Selector != "" {
		options = append(options, pager.WithSelector(pager.Field(pc.Selector)))
	}

	if pc.TotalCountHeader != "" {
		options = append(options, pager.TotalCountHeader(pc.TotalCountHeader))
	}

	switch pc.Strategy {
	case "", StrategyLink:
		if pc.NextLinkField != "" {
			options = append(options, pager.NextLinkField(pc.NextLinkField))
		}
		if pc.VersionHeader != "" {
			options = append(options, pager.VersionHeader(pc.VersionHeader))
		}
		return pager.NewLinkPager(append(options, extra...)...), nil
	case StrategyCursor:
		if pc.CursorKey != "" {
			options = append(options, pager.CursorKey(pc.CursorKey))
		}
		if pc.PageSize > 0 {
			options = append(options, pager.PageSize(pc.PageSize, pc.PageSizeKey))
		}
		if pc.Start != nil {
			options = append(options, pager.Start(*pc.Start))
		}
		if pc.Step != 0 {
			options = append(options, pager.Step(pc.Step))
		}
		return pager.NewCursorPager(append(options, extra...)...), nil
	}

	return nil, errors.NewPagerConfigurationError(fmt.Sprintf("unknown pager strategy \"%s\"", pc.Strategy))
}

// RelationshipConfig describes a relationship field. With Field set the
// record field holds either the id of the related entity, the related entity
// itself or an array of related entities. With Filter set the field is a
// collection of entities matching the filter, where a value of "{id}" is
// replaced by the id of the owning entity and "{name}" by the value of the
// owning record's field with that name.
type RelationshipConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Field  string            `yaml:"field"`
	Filter map[string]string `yaml:"filter"`
}

type EntityTypeConfig struct {
	Type          string               `yaml:"type"`
	Path          string               `yaml:"path"`
	ByIDPath      string               `yaml:"byIdPath"`
	IDField       string               `yaml:"idField"`
	IDsParam      string               `yaml:"idsParam"`
	BatchFilters  bool                 `yaml:"batchFilters"`
	Pager         PagerConfig          `yaml:"pager"`
	Relationships []RelationshipConfig `yaml:"relationships"`
}

type ProviderConfig struct {
	ID       string              `yaml:"id"`
	Endpoint string              `yaml:"endpoint"`
	Headers  map[string][]string `yaml:"headers"`
	Types    []EntityTypeConfig  `yaml:"types"`
}

type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = yaml.Unmarshal(buf, &cfg)

	return cfg, err
}

func (c *Config) Provider(id string) (ProviderConfig, error) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, nil
		}
	}

	return ProviderConfig{}, errors.NewUnknownProviderError(id)
}

func (pc ProviderConfig) validate() error {
	if pc.ID == "" {
		return fmt.Errorf("provider configuration lacks an id")
	}

	if pc.Endpoint == "" {
		return fmt.Errorf("provider %s has no endpoint", pc.ID)
	}

	for _, t := range pc.Types {
		if t.Type == "" || t.Path == "" {
			return fmt.Errorf("provider %s has an entity type without type name or path", pc.ID)
		}

		if _, err := t.Pager.NewPager(); err != nil {
			return fmt.Errorf("entity type %s of provider %s: %w", t.Type, pc.ID, err)
		}

		for _, r := range t.Relationships {
			if r.Name == "" || r.Type == "" {
				return fmt.Errorf("entity type %s of provider %s has a relationship without name or type", t.Type, pc.ID)
			}

			if r.Field == "" && len(r.Filter) == 0 {
				return fmt.Errorf("relationship %s of %s needs either a field or a filter", r.Name, t.Type)
			}
		}
	}

	return nil
}

func (t EntityTypeConfig) idField() string {
	if t.IDField == "" {
		return "id"
	}
	return t.IDField
}

func (t EntityTypeConfig) byIDPath() string {
	if t.ByIDPath == "" {
		return t.Path + "/{id}"
	}
	return t.ByIDPath
}
