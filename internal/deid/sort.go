package deid

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortKey names a sortable findings column.
type SortKey string

const (
	SortEntityType SortKey = "entityType"
	SortText       SortKey = "text"
	SortPosition   SortKey = "position"
	SortCount      SortKey = "count"
	SortConfidence SortKey = "confidence"
	SortRecognizer SortKey = "recognizer"
)

// Direction is ascending or descending.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortConfig is the persisted findings sort preference.
type SortConfig struct {
	Key       SortKey   `json:"key"`
	Direction Direction `json:"direction"`
}

// DefaultSort orders findings by position, ascending.
var DefaultSort = SortConfig{Key: SortPosition, Direction: Asc}

// Toggle returns the config after clicking the header of key: the same
// key flips direction, a new key starts ascending.
func (c SortConfig) Toggle(key SortKey) SortConfig {
	if c.Key == key {
		if c.Direction == Asc {
			return SortConfig{Key: key, Direction: Desc}
		}
		return SortConfig{Key: key, Direction: Asc}
	}
	return SortConfig{Key: key, Direction: Asc}
}

// ParseSortConfig decodes a stored preference. Anything unreadable falls
// back to DefaultSort; an unknown direction means ascending.
func ParseSortConfig(raw string) SortConfig {
	var stored struct {
		Key       any `json:"key"`
		Direction any `json:"direction"`
	}
	if raw == "" || json.Unmarshal([]byte(raw), &stored) != nil {
		return DefaultSort
	}
	cfg := DefaultSort
	if k, ok := stored.Key.(string); ok {
		cfg.Key = SortKey(k)
	}
	if d, ok := stored.Direction.(string); ok && d == string(Desc) {
		cfg.Direction = Desc
	}
	return cfg
}

// SortFindings returns a sorted copy of findings. Strings compare
// case-insensitively with locale-aware collation; a missing start sorts as
// +Inf and a missing confidence as -1. Unknown keys sort by entity type.
func SortFindings(findings []Finding, cfg SortConfig) []Finding {
	out := append([]Finding(nil), findings...)
	dir := 1
	if cfg.Direction == Desc {
		dir = -1
	}
	col := collate.New(language.Und)

	var cmp func(a, b Finding) int
	switch cfg.Key {
	case SortPosition:
		cmp = comparePosition
	case SortCount:
		cmp = func(a, b Finding) int { return compareFloat(float64(a.Count), float64(b.Count)) }
	case SortConfidence:
		cmp = func(a, b Finding) int { return compareFloat(confidenceOf(a), confidenceOf(b)) }
	case SortText:
		cmp = func(a, b Finding) int { return col.CompareString(strings.ToLower(a.Text), strings.ToLower(b.Text)) }
	case SortRecognizer:
		cmp = func(a, b Finding) int {
			return col.CompareString(strings.ToLower(a.Recognizer), strings.ToLower(b.Recognizer))
		}
	default:
		cmp = func(a, b Finding) int {
			return col.CompareString(strings.ToLower(a.EntityType), strings.ToLower(b.EntityType))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return cmp(out[i], out[j])*dir < 0
	})
	return out
}

func comparePosition(a, b Finding) int {
	if c := compareFloat(offsetOrInf(a.Start), offsetOrInf(b.Start)); c != 0 {
		return c
	}
	return compareFloat(offsetOrInf(a.End), offsetOrInf(b.End))
}

func offsetOrInf(o Offset) float64 {
	if !o.Valid {
		return math.Inf(1)
	}
	return float64(o.Value)
}

func confidenceOf(f Finding) float64 {
	if !f.Confidence.Valid {
		return -1
	}
	return f.Confidence.Value
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
