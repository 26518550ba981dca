package deid

import (
	"fmt"
	"sort"
)

// SpanKey is the exact join key between an entity and an item.
type SpanKey struct {
	Start      int
	End        int
	EntityType string
}

func (k SpanKey) String() string {
	return fmt.Sprintf("%d-%d-%s", k.Start, k.End, k.EntityType)
}

// SpanIndex joins entities to anonymized items. Exact lookups use
// (start, end, entity_type); the positional pairing matches the i-th valid
// entity to the i-th valid item after sorting both by (start, end) and is
// truncated to the shorter list. The pairing is best effort: the two lists
// may come from independent passes over the text.
type SpanIndex struct {
	byKey  map[SpanKey]Item
	paired map[int]Item // entity position in the indexed slice -> item
}

// NewSpanIndex indexes items and pairs them with entities. Spans with
// missing offsets or non-positive length take no part in either lookup.
func NewSpanIndex(entities []EntitySpan, items []Item) *SpanIndex {
	ix := &SpanIndex{
		byKey:  make(map[SpanKey]Item, len(items)),
		paired: make(map[int]Item),
	}

	validItems := make([]Item, 0, len(items))
	for _, it := range items {
		if !it.Valid() {
			continue
		}
		ix.byKey[SpanKey{Start: it.Start.Value, End: it.End.Value, EntityType: it.EntityType}] = it
		validItems = append(validItems, it)
	}
	if len(validItems) == 0 {
		return ix
	}

	order := make([]int, 0, len(entities))
	for i, e := range entities {
		if e.Valid() {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := entities[order[a]], entities[order[b]]
		if ea.Start.Value != eb.Start.Value {
			return ea.Start.Value < eb.Start.Value
		}
		return ea.End.Value < eb.End.Value
	})
	sort.SliceStable(validItems, func(a, b int) bool {
		if validItems[a].Start.Value != validItems[b].Start.Value {
			return validItems[a].Start.Value < validItems[b].Start.Value
		}
		return validItems[a].End.Value < validItems[b].End.Value
	})

	n := min(len(order), len(validItems))
	for p := 0; p < n; p++ {
		ix.paired[order[p]] = validItems[p]
	}
	return ix
}

// Exact returns the item sharing the entity's offsets and type.
func (ix *SpanIndex) Exact(e EntitySpan) (Item, bool) {
	if !e.Valid() {
		return Item{}, false
	}
	it, ok := ix.byKey[SpanKey{Start: e.Start.Value, End: e.End.Value, EntityType: e.EntityType}]
	return it, ok
}

// Paired returns the item positionally paired with the entity at index i
// of the slice the index was built from.
func (ix *SpanIndex) Paired(i int) (Item, bool) {
	it, ok := ix.paired[i]
	return it, ok
}

// Lookup prefers the exact key and falls back to the positional pairing.
func (ix *SpanIndex) Lookup(i int, e EntitySpan) (Item, bool) {
	if it, ok := ix.Exact(e); ok {
		return it, true
	}
	return ix.Paired(i)
}
