// Package session owns the console's mutable state: settings, the current
// submission and its results, per-finding toggles and presets. Reducers in
// this file are pure; Session serializes them and persists preferences.
package session

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/gonkalabs/opendeid/internal/catalog"
	"github.com/gonkalabs/opendeid/internal/deid"
)

const (
	DefaultThreshold     = 0.5
	DefaultMode          = deid.ModeReplace
	DefaultMaskCharCount = 15
	DefaultMaskChar      = "*"
	DefaultEncryptKey    = "w0dPsi0DAZTBIkeBGsvWGwgG"

	ThemeLight = "light"
	ThemeDark  = "dark"
)

// DefaultOpenFilters is the settings section open on first start.
var DefaultOpenFilters = []string{"ner-model"}

// Editor is the submitted document: HTML for display and the plain text the
// service analyses. Offsets refer to Text.
type Editor struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

// Results is the last successful service response.
type Results struct {
	AnonymizedText string            `json:"anonymizedText"`
	Entities       []deid.EntitySpan `json:"entities"`
	Items          []deid.Item       `json:"items"`
}

// State is one snapshot of the session.
type State struct {
	NerModel            string          `json:"nerModel"`
	Theme               string          `json:"theme"`
	Threshold           float64         `json:"threshold"`
	Mode                deid.Mode       `json:"deidentificationType"`
	MaskCharCount       int             `json:"maskCharCount"`
	MaskChar            string          `json:"maskChar"`
	EncryptKey          string          `json:"encryptKey"`
	AllowlistText       string          `json:"allowlistText"`
	DenylistText        string          `json:"denylistText"`
	EntityTypeSelection map[string]bool `json:"entityTypeSelection"`
	EntityTypeFilter    string          `json:"entityTypeFilter"`
	MoreEntityOptions   bool            `json:"moreEntityOptions"`
	OpenFilters         []string        `json:"openFilters"`
	Sort                deid.SortConfig `json:"findingsSort"`
	Presets             []Preset        `json:"presets"`

	Editor            Editor          `json:"editor"`
	LastSubmittedText string          `json:"lastSubmittedText"`
	LastSubmittedHTML string          `json:"lastSubmittedHtml"`
	Results           Results         `json:"results"`
	EntityToggles     map[string]bool `json:"entityToggles"`
	DisplayHTML       string          `json:"displayHtml"`

	StatusMessage       string `json:"statusMessage"`
	ErrorMessage        string `json:"errorMessage"`
	ErrorDetail         string `json:"errorDetail,omitempty"`
	PresetStatusMessage string `json:"presetStatusMessage"`
	PresetErrorMessage  string `json:"presetErrorMessage"`
	Submitting          bool   `json:"isSubmitting"`
}

// Defaults is the state of a fresh install.
func Defaults(cat *catalog.Catalog) State {
	return State{
		NerModel:            cat.DefaultModel(),
		Theme:               ThemeLight,
		Threshold:           DefaultThreshold,
		Mode:                DefaultMode,
		MaskCharCount:       DefaultMaskCharCount,
		MaskChar:            DefaultMaskChar,
		EncryptKey:          DefaultEncryptKey,
		EntityTypeSelection: cat.DefaultSelection(),
		OpenFilters:         append([]string(nil), DefaultOpenFilters...),
		Sort:                deid.DefaultSort,
		Presets:             []Preset{},
		EntityToggles:       map[string]bool{},
	}
}

// clone copies the maps and slices a reducer may write to.
func (s State) clone() State {
	s.EntityTypeSelection = copyMap(s.EntityTypeSelection)
	s.EntityToggles = copyMap(s.EntityToggles)
	s.OpenFilters = append([]string(nil), s.OpenFilters...)
	s.Presets = append([]Preset(nil), s.Presets...)
	return s
}

func copyMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NumberInput is numeric user input as typed: a JSON number or a string.
type NumberInput string

func (n *NumberInput) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) == nil {
		*n = NumberInput(s)
		return nil
	}
	*n = NumberInput(strings.TrimSpace(string(b)))
	return nil
}

// Num formats v as input.
func Num(v float64) *NumberInput {
	n := NumberInput(strconv.FormatFloat(v, 'f', -1, 64))
	return &n
}

// Patch is a bulk update. Nil fields are left alone, scalar fields replace
// and map fields are merged key by key.
type Patch struct {
	NerModel            *string          `json:"nerModel,omitempty"`
	Theme               *string          `json:"theme,omitempty"`
	Threshold           *NumberInput     `json:"threshold,omitempty"`
	Mode                *string          `json:"deidentificationType,omitempty"`
	MaskCharCount       *NumberInput     `json:"maskCharCount,omitempty"`
	MaskChar            *string          `json:"maskChar,omitempty"`
	EncryptKey          *string          `json:"encryptKey,omitempty"`
	AllowlistText       *string          `json:"allowlistText,omitempty"`
	DenylistText        *string          `json:"denylistText,omitempty"`
	EntityTypeSelection map[string]bool  `json:"entityTypeSelection,omitempty"`
	EntityToggles       map[string]bool  `json:"entityToggles,omitempty"`
	EntityTypeFilter    *string          `json:"entityTypeFilter,omitempty"`
	MoreEntityOptions   *bool            `json:"moreEntityOptions,omitempty"`
	OpenFilters         []string         `json:"openFilters,omitempty"`
	Sort                *deid.SortConfig `json:"findingsSort,omitempty"`
}

// Apply merges p into s. Invalid values keep the previous value: an unknown
// model or mode, a non-numeric threshold or mask count, an empty mask
// character or encryption key.
func Apply(s State, p Patch, cat *catalog.Catalog) State {
	s = s.clone()
	if p.NerModel != nil && cat.Model(*p.NerModel).Value == *p.NerModel {
		s.NerModel = *p.NerModel
	}
	if p.Theme != nil {
		s.Theme = ParseTheme(*p.Theme)
	}
	if p.Threshold != nil {
		s.Threshold = ParseThreshold(string(*p.Threshold), s.Threshold)
	}
	if p.Mode != nil {
		s.Mode = deid.ParseMode(*p.Mode, s.Mode)
	}
	if p.MaskCharCount != nil {
		s.MaskCharCount = ParseMaskCharCount(string(*p.MaskCharCount), s.MaskCharCount)
	}
	if p.MaskChar != nil {
		s.MaskChar = ParseMaskChar(*p.MaskChar, s.MaskChar)
	}
	if p.EncryptKey != nil && *p.EncryptKey != "" {
		s.EncryptKey = *p.EncryptKey
	}
	if p.AllowlistText != nil {
		s.AllowlistText = *p.AllowlistText
	}
	if p.DenylistText != nil {
		s.DenylistText = *p.DenylistText
	}
	for k, v := range p.EntityTypeSelection {
		s.EntityTypeSelection[k] = v
	}
	for k, v := range p.EntityToggles {
		s.EntityToggles[k] = v
	}
	if p.EntityTypeFilter != nil {
		s.EntityTypeFilter = *p.EntityTypeFilter
	}
	if p.MoreEntityOptions != nil {
		s.MoreEntityOptions = *p.MoreEntityOptions
	}
	if p.OpenFilters != nil {
		s.OpenFilters = dedupe(p.OpenFilters)
	}
	if p.Sort != nil {
		s.Sort = *p.Sort
		if s.Sort.Direction != deid.Desc {
			s.Sort.Direction = deid.Asc
		}
	}
	return Rerender(s, cat)
}

// ParseTheme accepts "dark"; anything else is light.
func ParseTheme(v string) string {
	if strings.TrimSpace(v) == ThemeDark {
		return ThemeDark
	}
	return ThemeLight
}

// ParseThreshold reads a threshold in [0,1]. Out-of-range values are
// clamped; unreadable ones return last.
func ParseThreshold(raw string, last float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return last
	}
	return math.Min(1, math.Max(0, v))
}

// ParseMaskCharCount reads the leading integer of raw. Zero, negative or
// unreadable input returns last.
func ParseMaskCharCount(raw string, last int) int {
	raw = strings.TrimSpace(raw)
	end := 0
	if end < len(raw) && (raw[end] == '-' || raw[end] == '+') {
		end++
	}
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	v, err := strconv.Atoi(raw[:end])
	if err != nil || v <= 0 {
		return last
	}
	return v
}

// ParseMaskChar keeps the first character of raw, or last when raw is empty.
func ParseMaskChar(raw string, last string) string {
	for _, r := range raw {
		return string(r)
	}
	return last
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// SetFindingToggle includes or excludes one finding.
func SetFindingToggle(s State, id string, included bool, cat *catalog.Catalog) State {
	s = s.clone()
	s.EntityToggles[id] = included
	return Rerender(s, cat)
}

// SetAllFindingToggles includes or excludes every current finding.
func SetAllFindingToggles(s State, included bool, cat *catalog.Catalog) State {
	if len(s.Results.Entities) == 0 {
		return s
	}
	s = s.clone()
	for i, e := range s.Results.Entities {
		s.EntityToggles[deid.EntityID(e, i)] = included
	}
	return Rerender(s, cat)
}

// SetSection opens or closes a settings section.
func SetSection(s State, key string, open bool) State {
	s = s.clone()
	if open {
		s.OpenFilters = dedupe(append(s.OpenFilters, key))
		return s
	}
	out := s.OpenFilters[:0]
	for _, k := range s.OpenFilters {
		if k != key {
			out = append(out, k)
		}
	}
	s.OpenFilters = out
	return s
}

// SetEntityType enables or disables one entity type. Unknown types are
// ignored.
func SetEntityType(s State, entityType string, enabled bool, cat *catalog.Catalog) State {
	if !cat.Known(entityType) {
		return s
	}
	s = s.clone()
	s.EntityTypeSelection[entityType] = enabled
	return s
}

// AllEntityTypesSelected reports whether no catalog type is disabled.
func AllEntityTypesSelected(s State, cat *catalog.Catalog) bool {
	return len(cat.Selected(s.EntityTypeSelection)) == len(cat.EntityTypes)
}

// ToggleAllEntityTypes deselects every type when all are selected and
// selects every type otherwise.
func ToggleAllEntityTypes(s State, cat *catalog.Catalog) State {
	next := !AllEntityTypesSelected(s, cat)
	s = s.clone()
	s.EntityTypeSelection = make(map[string]bool, len(cat.EntityTypes))
	for _, t := range cat.EntityTypes {
		s.EntityTypeSelection[t.Value] = next
	}
	return s
}

// ApplyPreset loads a preset's model, threshold, lists and entity types.
// Types the preset lists but the catalog does not know are dropped.
func ApplyPreset(s State, p Preset, cat *catalog.Catalog) State {
	s = s.clone()
	if cat.Model(p.NerModel).Value == p.NerModel {
		s.NerModel = p.NerModel
	}
	s.Threshold = p.Threshold
	s.AllowlistText = p.Allowlist
	s.DenylistText = p.Denylist
	enabled := make(map[string]bool, len(p.EntityTypes))
	for _, t := range p.EntityTypes {
		enabled[t] = true
	}
	s.EntityTypeSelection = make(map[string]bool, len(cat.EntityTypes))
	for _, t := range cat.EntityTypes {
		s.EntityTypeSelection[t.Value] = enabled[t.Value]
	}
	s.PresetErrorMessage = ""
	s.PresetStatusMessage = `Loaded preset "` + p.Name + `".`
	return Rerender(s, cat)
}

// Reset clears the editor and results and restores model, threshold,
// lists and entity types to their defaults. Mode, mask settings, theme,
// sort, open sections and presets are kept.
func Reset(s State, cat *catalog.Catalog) State {
	d := Defaults(cat)
	s = s.clone()
	s.Editor = Editor{}
	s.Results = Results{}
	s.LastSubmittedText = ""
	s.LastSubmittedHTML = ""
	s.EntityToggles = map[string]bool{}
	s.DisplayHTML = ""
	s.StatusMessage = ""
	s.ErrorMessage = ""
	s.ErrorDetail = ""
	s.Threshold = d.Threshold
	s.AllowlistText = ""
	s.DenylistText = ""
	s.NerModel = d.NerModel
	s.EntityTypeSelection = d.EntityTypeSelection
	return s
}

// Rerender recomputes DisplayHTML from the last submission, the active
// findings and the current mode and model language.
func Rerender(s State, cat *catalog.Catalog) State {
	s.DisplayHTML = Render(s, cat.DisplayNames(cat.Language(s.NerModel)))
	return s
}

// Render is the output HTML for s: the submitted HTML re-annotated for the
// included findings.
func Render(s State, names map[string]string) string {
	if s.LastSubmittedHTML == "" && s.LastSubmittedText == "" {
		return ""
	}
	active := deid.ActiveEntities(s.Results.Entities, s.EntityToggles)
	return deid.ApplyToHTML(s.LastSubmittedHTML, s.LastSubmittedText, s.Results.Items, active,
		deid.RenderOptions{DisplayNames: names, Mode: s.Mode})
}
