// Package catalog holds the static recognizer catalog: the NER models the
// anonymization service can load, the entity types it can report and the
// localized labels shown for them.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultData []byte

// Model is an NER model option.
type Model struct {
	Value    string `yaml:"value" json:"value"`
	Label    string `yaml:"label" json:"label"`
	Language string `yaml:"language" json:"language"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
}

// EntityType is an entity type option in its canonical (English) form.
type EntityType struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// Translation is the localized label and placeholder value of an entity type.
type Translation struct {
	Label string `yaml:"label"`
	Value string `yaml:"value"`
}

// Option is an entity type resolved for one language.
type Option struct {
	Value        string `json:"value"`
	Label        string `json:"label"`
	DisplayLabel string `json:"displayLabel"`
	DisplayValue string `json:"displayValue"`
}

// Catalog is the parsed catalog file.
type Catalog struct {
	DisplayLimit int                               `yaml:"display_limit"`
	Models       []Model                           `yaml:"models"`
	EntityTypes  []EntityType                      `yaml:"entity_types"`
	Translations map[string]map[string]Translation `yaml:"translations"`
}

// Parse decodes a catalog document. It needs at least one model and one
// entity type.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if len(c.Models) == 0 {
		return nil, fmt.Errorf("catalog: no models")
	}
	if len(c.EntityTypes) == 0 {
		return nil, fmt.Errorf("catalog: no entity types")
	}
	if c.DisplayLimit <= 0 {
		c.DisplayLimit = 10
	}
	return &c, nil
}

var loadDefault = sync.OnceValue(func() *Catalog {
	c, err := Parse(defaultData)
	if err != nil {
		panic(err)
	}
	return c
})

// Default returns the embedded catalog.
func Default() *Catalog { return loadDefault() }

// DefaultModel is the first model in the catalog.
func (c *Catalog) DefaultModel() string { return c.Models[0].Value }

// Model returns the model named value, or the default model.
func (c *Catalog) Model(value string) Model {
	for _, m := range c.Models {
		if m.Value == value {
			return m
		}
	}
	return c.Models[0]
}

// Language is the language code of a model, "en" when unknown.
func (c *Catalog) Language(model string) string {
	if lang := c.Model(model).Language; lang != "" {
		return lang
	}
	return "en"
}

// Known reports whether value is a catalog entity type.
func (c *Catalog) Known(value string) bool {
	for _, t := range c.EntityTypes {
		if t.Value == value {
			return true
		}
	}
	return false
}

// Localized resolves every entity type for lang. Types without a
// translation keep their canonical label and value.
func (c *Catalog) Localized(lang string) []Option {
	tr := c.Translations[lang]
	out := make([]Option, 0, len(c.EntityTypes))
	for _, t := range c.EntityTypes {
		o := Option{Value: t.Value, Label: t.Label, DisplayLabel: t.Label, DisplayValue: t.Value}
		if x, ok := tr[t.Value]; ok {
			if x.Label != "" {
				o.DisplayLabel = x.Label
			}
			if x.Value != "" {
				o.DisplayValue = x.Value
			}
		}
		out = append(out, o)
	}
	return out
}

// DisplayNames maps each entity type to its display value in lang.
func (c *Catalog) DisplayNames(lang string) map[string]string {
	opts := c.Localized(lang)
	names := make(map[string]string, len(opts))
	for _, o := range opts {
		names[o.Value] = o.DisplayValue
	}
	return names
}

// DefaultSelection enables every entity type.
func (c *Catalog) DefaultSelection() map[string]bool {
	sel := make(map[string]bool, len(c.EntityTypes))
	for _, t := range c.EntityTypes {
		sel[t.Value] = true
	}
	return sel
}

// Selected lists, in catalog order, the types not explicitly disabled in sel.
func (c *Catalog) Selected(sel map[string]bool) []string {
	out := make([]string, 0, len(c.EntityTypes))
	for _, t := range c.EntityTypes {
		if on, ok := sel[t.Value]; ok && !on {
			continue
		}
		out = append(out, t.Value)
	}
	return out
}

// Filter keeps the options whose label, value, display label or display
// value contains query, ignoring case. A blank query keeps everything.
func Filter(opts []Option, query string) []Option {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return opts
	}
	var out []Option
	for _, o := range opts {
		if strings.Contains(strings.ToLower(o.Label), q) ||
			strings.Contains(strings.ToLower(o.Value), q) ||
			strings.Contains(strings.ToLower(o.DisplayLabel), q) ||
			strings.Contains(strings.ToLower(o.DisplayValue), q) {
			out = append(out, o)
		}
	}
	return out
}

// Visible truncates opts to the display limit unless more is set, and
// reports whether a "show more" control is needed.
func (c *Catalog) Visible(opts []Option, more bool) ([]Option, bool) {
	if more || len(opts) <= c.DisplayLimit {
		return opts, false
	}
	return opts[:c.DisplayLimit], true
}
