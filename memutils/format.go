package memutils

import (
	"strconv"
	"strings"
)

// Range is a contiguous region [Offset, Offset+Size) of a pool. Block metadata stores its live
// suballocations as Ranges, and pool reports are built from them.
type Range struct {
	Offset int
	Size   int
}

// End returns the first offset past the range
func (r Range) End() int {
	return r.Offset + r.Size
}

// FormatRanges renders a report line in the canonical form shared by every pool report:
//
//	label: 0 [30], 30 [40]
//
// followed by a newline. An empty range list is rendered as "label: none".
func FormatRanges(label string, ranges []Range) string {
	var sb strings.Builder
	sb.WriteString(label)
	sb.WriteByte(':')

	if len(ranges) == 0 {
		sb.WriteString(" none\n")
		return sb.String()
	}

	for i, r := range ranges {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(r.Offset))
		sb.WriteString(" [")
		sb.WriteString(strconv.Itoa(r.Size))
		sb.WriteByte(']')
	}
	sb.WriteByte('\n')

	return sb.String()
}
