package deid

import "strconv"

// EntityID derives the finding id used to key toggle state:
// "{entityType}-{start}-{index}", with index standing in for a missing start.
// Equal inputs give equal ids. Two spans sharing type and start differ only
// by index, so ids stay unique as long as the entity slice order is stable.
func EntityID(e EntitySpan, index int) string {
	start := index
	if e.Start.Valid {
		start = e.Start.Value
	}
	return e.EntityType + "-" + strconv.Itoa(start) + "-" + strconv.Itoa(index)
}
