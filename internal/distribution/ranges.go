package distribution

import (
	"slices"
	"strconv"
	"strings"
)

// FormatRanges compresses image orders into a list such as "0-3,7,9-10".
// Duplicates collapse and the input is not modified.
func FormatRanges(orders []int) string {
	if len(orders) == 0 {
		return ""
	}
	sorted := slices.Clone(orders)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var parts []string
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, strconv.Itoa(start)+"-"+strconv.Itoa(prev))
		}
	}
	for _, o := range sorted[1:] {
		if o == prev+1 {
			prev = o
			continue
		}
		flush()
		start, prev = o, o
	}
	flush()
	return strings.Join(parts, ",")
}
