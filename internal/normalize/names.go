package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TitleCase capitalizes each word and lowercases the rest.
func TitleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return cases.Title(language.English).String(s)
}

// SplitName splits "Last, First" into first and last name. A value without
// exactly one comma lands entirely in the last name.
func SplitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.Split(name, ",")
	if len(parts) == 2 {
		return TitleCase(parts[1]), TitleCase(parts[0])
	}
	return "", TitleCase(name)
}

// StripFloatSuffix removes a trailing ".0" left by spreadsheet exports of
// numeric identifiers.
func StripFloatSuffix(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), ".0")
}

// blankish reports values that spreadsheet exports use for "no value".
func blankish(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "N/A", "NONE", "NAN", "NULL":
		return true
	}
	return false
}
