package textpipe

import (
	"strings"
	"time"
)

// ExpandMacros replaces {{date}}, {{time}}, and {{datetime}} with
// locale-neutral timestamps derived from at. Macros are not recursive:
// a replacement value is never itself scanned for further macros (§4.8).
func ExpandMacros(text string, at time.Time) string {
	date := at.Format("2006-01-02")
	clock := at.Format("15:04")
	datetime := date + " " + clock

	replacer := strings.NewReplacer(
		"{{date}}", date,
		"{{time}}", clock,
		"{{datetime}}", datetime,
	)
	return replacer.Replace(text)
}
