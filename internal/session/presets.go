package session

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Preset is a named snapshot of the recognition settings.
type Preset struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	NerModel    string   `json:"nerModel"`
	Threshold   float64  `json:"threshold"`
	Allowlist   string   `json:"allowlist"`
	Denylist    string   `json:"denylist"`
	EntityTypes []string `json:"entityTypes"`
}

const untitledPreset = "Untitled preset"

// ParsePresets decodes a stored preset list. Entries are normalized one by
// one: a missing id becomes the entry's 1-based position, a blank name
// "Untitled preset", a missing model or threshold the defaults, and
// non-string entity types are dropped. A value that is not a JSON array
// yields no presets.
func ParsePresets(raw, defaultModel string) []Preset {
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return []Preset{}
	}
	out := make([]Preset, 0, len(entries))
	for i, e := range entries {
		out = append(out, normalizePreset(e, int64(i+1), defaultModel))
	}
	return out
}

func normalizePreset(raw json.RawMessage, fallbackID int64, defaultModel string) Preset {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(raw, &fields)

	p := Preset{
		ID:          fallbackID,
		Name:        untitledPreset,
		NerModel:    defaultModel,
		Threshold:   DefaultThreshold,
		EntityTypes: []string{},
	}
	var id float64
	if json.Unmarshal(fields["id"], &id) == nil && !math.IsInf(id, 0) && !math.IsNaN(id) {
		p.ID = int64(id)
	}
	var name string
	if json.Unmarshal(fields["name"], &name) == nil && strings.TrimSpace(name) != "" {
		p.Name = strings.TrimSpace(name)
	}
	var model string
	if json.Unmarshal(fields["nerModel"], &model) == nil && strings.TrimSpace(model) != "" {
		p.NerModel = model
	}
	var threshold float64
	if string(fields["threshold"]) != "null" && json.Unmarshal(fields["threshold"], &threshold) == nil {
		p.Threshold = threshold
	}
	_ = json.Unmarshal(fields["allowlist"], &p.Allowlist)
	_ = json.Unmarshal(fields["denylist"], &p.Denylist)

	var types []json.RawMessage
	if json.Unmarshal(fields["entityTypes"], &types) == nil {
		for _, t := range types {
			var v string
			if string(t) != "null" && json.Unmarshal(t, &v) == nil {
				p.EntityTypes = append(p.EntityTypes, v)
			}
		}
	}
	return p
}

// SortPresets orders presets by name, ignoring case and accents.
func SortPresets(ps []Preset) []Preset {
	out := append([]Preset(nil), ps...)
	col := collate.New(language.Und, collate.Loose)
	sort.SliceStable(out, func(i, j int) bool {
		return col.CompareString(out[i].Name, out[j].Name) < 0
	})
	return out
}

// AddPreset inserts p and keeps the list sorted.
func AddPreset(s State, p Preset) State {
	s = s.clone()
	s.Presets = SortPresets(append(s.Presets, p))
	return s
}

// RemovePreset deletes the preset with id and reports whether it existed.
func RemovePreset(s State, id int64) (State, bool) {
	s = s.clone()
	for i, p := range s.Presets {
		if p.ID == id {
			s.Presets = append(s.Presets[:i], s.Presets[i+1:]...)
			return s, true
		}
	}
	return s, false
}

// FindPreset returns the preset with id.
func FindPreset(ps []Preset, id int64) (Preset, bool) {
	for _, p := range ps {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}
