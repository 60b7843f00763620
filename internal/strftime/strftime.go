// Package strftime translates the small subset of POSIX strftime
// conversion specifiers the backup argv template uses (spec.md §4.9:
// "any other %X is passed to strftime") into Go's reference-time
// layout, since no strftime library appears anywhere in the
// retrieval pack and the conversion table is small and fixed.
package strftime

import (
	"strconv"
	"strings"
	"time"
)

// table maps a strftime conversion letter to the equivalent Go
// time.Format directive. Only the conversions the backup argv
// template realistically needs are covered; anything unrecognized is
// passed through literally.
var table = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'Z': "MST",
	'j': "002",
	'A': "Monday",
	'a': "Mon",
	'B': "January",
	'b': "Jan",
	'p': "PM",
}

// Expand replaces every "%X" run in s with its strftime expansion
// relative to t, in t's own location; callers pass a local time to get
// the fork-time local time the original uses.
func Expand(s string, t time.Time) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		spec := s[i]
		if spec == '%' {
			b.WriteByte('%')
			continue
		}
		if layout, ok := table[spec]; ok {
			b.WriteString(t.Format(layout))
			continue
		}
		if spec == 's' {
			b.WriteString(strconv.FormatInt(t.Unix(), 10))
			continue
		}
		// Unknown conversion: pass through verbatim.
		b.WriteByte('%')
		b.WriteByte(spec)
	}
	return b.String()
}
