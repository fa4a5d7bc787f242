package normalize

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DateLayout is the canonical calendar date format.
const DateLayout = "2006-01-02"

// dateLayouts are tried in order before the lenient parser.
var dateLayouts = []string{
	"1/2/2006",
	"2006-01-02",
	"1/2/2006 15:04",
	"2006-01-02 15:04",
	"1/2/06",
}

// ParseDate normalizes a date-like string to YYYY-MM-DD. Ambiguous numeric
// dates are read month first. Unparseable input yields "".
func ParseDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "nat") {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout)
		}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return ""
	}
	return t.Format(DateLayout)
}
