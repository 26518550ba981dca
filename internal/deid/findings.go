package deid

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Finding is one row of the findings table, derived from one entity span.
type Finding struct {
	ID            string `json:"id"`
	EntityType    string `json:"entityType"`
	Text          string `json:"text"`
	Start         Offset `json:"start"`
	End           Offset `json:"end"`
	PositionLabel string `json:"position"`
	Count         int    `json:"count"`
	Confidence    Score  `json:"confidence"`
	Anonymizer    string `json:"anonymizer"`
	Replacement   string `json:"replacement"`
	Recognizer    string `json:"recognizer"`
}

type occurrenceKey struct {
	entityType string
	text       string
}

// ProjectFindings joins entities with items and the submitted text into
// findings ordered by (start, end). Count is the number of entities,
// itself included, with the same entity type and original text. Entities
// with degenerate offsets still get a row, with empty text.
func ProjectFindings(entities []EntitySpan, items []Item, source string, names map[string]string) []Finding {
	if len(entities) == 0 {
		return []Finding{}
	}

	text := []rune(source)
	originals := make([]string, len(entities))
	counts := make(map[occurrenceKey]int, len(entities))
	for i, e := range entities {
		if e.Start.Valid && e.End.Valid {
			originals[i] = sliceRunes(text, e.Start.Value, e.End.Value)
		}
		counts[occurrenceKey{e.EntityType, originals[i]}]++
	}

	ix := NewSpanIndex(entities, items)
	out := make([]Finding, 0, len(entities))
	for i, e := range entities {
		f := Finding{
			ID:            EntityID(e, i),
			EntityType:    ResolveDisplayType(e.EntityType, names),
			Text:          originals[i],
			Start:         e.Start,
			End:           e.End,
			PositionLabel: "—",
			Count:         counts[occurrenceKey{e.EntityType, originals[i]}],
			Confidence:    e.Score,
			Recognizer:    e.RecognizerLabel(),
		}
		if e.Start.Valid && e.End.Valid {
			f.PositionLabel = fmt.Sprintf("%d-%d", e.Start.Value, e.End.Value)
		}
		if it, ok := ix.Lookup(i, e); ok {
			f.Anonymizer = it.Anonymizer
			f.Replacement, _ = it.Replacement()
		}
		out = append(out, f)
	}

	sort.SliceStable(out, func(a, b int) bool {
		return comparePosition(out[a], out[b]) < 0
	})
	return out
}

// FormatConfidence renders a score as a percentage with one decimal, or
// "--" when the score is missing.
func FormatConfidence(s Score) string {
	if !s.Valid {
		return "--"
	}
	pct := math.Round(s.Value*1000) / 10
	return strconv.FormatFloat(pct, 'f', -1, 64) + "%"
}

// Selection summarizes the toggle state of a findings list.
type Selection struct {
	Selected int  `json:"selected"`
	Total    int  `json:"total"`
	All      bool `json:"all"`
	Some     bool `json:"some"`
}

// Summarize counts the findings whose toggle is not explicitly false.
func Summarize(findings []Finding, toggles map[string]bool) Selection {
	sel := Selection{Total: len(findings)}
	for _, f := range findings {
		if on, ok := toggles[f.ID]; !ok || on {
			sel.Selected++
		}
	}
	sel.All = sel.Total > 0 && sel.Selected == sel.Total
	sel.Some = sel.Selected > 0 && sel.Selected < sel.Total
	return sel
}

// ActiveEntities returns copies of the entities whose finding is toggled on.
// Missing toggles count as on.
func ActiveEntities(entities []EntitySpan, toggles map[string]bool) []EntitySpan {
	out := make([]EntitySpan, 0, len(entities))
	for i, e := range entities {
		if on, ok := toggles[EntityID(e, i)]; ok && !on {
			continue
		}
		out = append(out, e)
	}
	return out
}
