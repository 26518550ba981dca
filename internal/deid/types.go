// Package deid reconciles the output of the external anonymization service
// with the text and HTML the user submitted. It builds the findings table,
// re-annotates the submitted HTML for the active findings and turns the
// rendered output back into plain text.
//
// Nothing in this package performs I/O. Every function takes and returns
// plain data and degrades instead of failing, because it runs on every
// toggle or settings change.
package deid

import (
	"encoding/json"
	"math"
	"strings"
)

// Mode is the de-identification strategy applied to a finding.
type Mode string

const (
	ModeReplace   Mode = "replace"
	ModeRedact    Mode = "redact"
	ModeMask      Mode = "mask"
	ModeHash      Mode = "hash"
	ModeEncrypt   Mode = "encrypt"
	ModeHighlight Mode = "highlight"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{ModeReplace, ModeRedact, ModeMask, ModeHash, ModeEncrypt, ModeHighlight}

// ParseMode returns the mode named by s, or fallback when s is not a known mode.
func ParseMode(s string, fallback Mode) Mode {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, m := range Modes {
		if string(m) == s {
			return m
		}
	}
	return fallback
}

// Offset is a character offset reported by the service. Valid is false
// when the field was absent, not a JSON number, or outside the int32 range.
type Offset struct {
	Value int
	Valid bool
}

// At returns a valid offset.
func At(v int) Offset { return Offset{Value: v, Valid: true} }

func (o *Offset) UnmarshalJSON(b []byte) error {
	*o = Offset{}
	var f float64
	if string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, &f); err != nil {
		return nil
	}
	if math.IsNaN(f) || math.Abs(f) > math.MaxInt32 {
		return nil
	}
	*o = Offset{Value: int(f), Valid: true}
	return nil
}

func (o Offset) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Score is a recognizer confidence in [0,1]. Valid is false when the
// service did not send a finite number.
type Score struct {
	Value float64
	Valid bool
}

// ScoreOf returns a valid score.
func ScoreOf(v float64) Score { return Score{Value: v, Valid: true} }

func (s *Score) UnmarshalJSON(b []byte) error {
	*s = Score{}
	var f float64
	if string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, &f); err != nil {
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*s = Score{Value: f, Valid: true}
	return nil
}

func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}

// Explanation carries the recognizer that produced an entity.
type Explanation struct {
	Recognizer     string `json:"recognizer,omitempty"`
	RecognizerName string `json:"recognizer_name,omitempty"`
}

// EntitySpan is one recognized occurrence of sensitive data.
type EntitySpan struct {
	EntityType          string       `json:"entity_type"`
	Start               Offset       `json:"start"`
	End                 Offset       `json:"end"`
	Score               Score        `json:"score"`
	AnalysisExplanation *Explanation `json:"analysis_explanation,omitempty"`
	Explanation         *Explanation `json:"explanation,omitempty"`
	Recognizer          string       `json:"recognizer,omitempty"`
	RecognizerName      string       `json:"recognizer_name,omitempty"`
}

// Valid reports whether the span has numeric offsets and positive length.
func (e EntitySpan) Valid() bool {
	return validRange(e.Start, e.End)
}

// RecognizerLabel returns the first recognizer name found on the entity.
func (e EntitySpan) RecognizerLabel() string {
	ex := e.AnalysisExplanation
	if ex == nil {
		ex = e.Explanation
	}
	if ex != nil {
		if ex.Recognizer != "" {
			return ex.Recognizer
		}
		if ex.RecognizerName != "" {
			return ex.RecognizerName
		}
	}
	if e.Recognizer != "" {
		return e.Recognizer
	}
	return e.RecognizerName
}

// Item is the service's replacement for the span at the same offsets.
type Item struct {
	Start      Offset  `json:"start"`
	End        Offset  `json:"end"`
	EntityType string  `json:"entity_type"`
	Text       *string `json:"text,omitempty"`
	Anonymizer string  `json:"anonymizer,omitempty"`
}

// Valid reports whether the item has numeric offsets and positive length.
func (it Item) Valid() bool {
	return validRange(it.Start, it.End)
}

// Replacement returns the item text and whether the service sent one.
func (it Item) Replacement() (string, bool) {
	if it.Text == nil {
		return "", false
	}
	return *it.Text, true
}

func validRange(start, end Offset) bool {
	return start.Valid && end.Valid && start.Value >= 0 && end.Value > start.Value
}

// Response is the decoded body of an anonymization call.
type Response struct {
	Entities       []EntitySpan `json:"entities"`
	Items          []Item       `json:"items"`
	AnonymizedText *string      `json:"anonymizedText,omitempty"`
}

// ParseResponse decodes a service response leniently. Non-array entities
// or items decode as empty lists, elements that are not objects are
// skipped, and entities without a string entity_type are dropped. Only a
// body that is not a JSON object at all is an error.
func ParseResponse(body []byte) (Response, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Response{}, err
	}

	var resp Response
	for _, el := range rawArray(raw["entities"]) {
		var probe map[string]json.RawMessage
		if json.Unmarshal(el, &probe) != nil || probe == nil {
			continue
		}
		var typ string
		if string(probe["entity_type"]) == "null" || json.Unmarshal(probe["entity_type"], &typ) != nil {
			continue
		}
		var e EntitySpan
		if json.Unmarshal(el, &e) != nil {
			e = EntitySpan{EntityType: typ}
			_ = json.Unmarshal(probe["start"], &e.Start)
			_ = json.Unmarshal(probe["end"], &e.End)
			_ = json.Unmarshal(probe["score"], &e.Score)
		}
		resp.Entities = append(resp.Entities, e)
	}
	for _, el := range rawArray(raw["items"]) {
		var probe map[string]json.RawMessage
		if json.Unmarshal(el, &probe) != nil || probe == nil {
			continue
		}
		var it Item
		_ = json.Unmarshal(probe["start"], &it.Start)
		_ = json.Unmarshal(probe["end"], &it.End)
		_ = json.Unmarshal(probe["entity_type"], &it.EntityType)
		_ = json.Unmarshal(probe["anonymizer"], &it.Anonymizer)
		var text string
		if string(probe["text"]) != "null" && json.Unmarshal(probe["text"], &text) == nil {
			it.Text = &text
		}
		resp.Items = append(resp.Items, it)
	}
	var text string
	if v, ok := raw["anonymizedText"]; ok && json.Unmarshal(v, &text) == nil && string(v) != "null" {
		resp.AnonymizedText = &text
	}
	return resp, nil
}

func rawArray(v json.RawMessage) []json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(v, &arr); err != nil {
		return nil
	}
	return arr
}

// sliceRunes returns text[start:end] counted in code points, clamped to
// the bounds of text. An inverted range yields "".
func sliceRunes(text []rune, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return string(text[start:end])
}
