package site

import (
	"strings"

	"golang.org/x/text/width"
)

// NormalizeText applies the profile's text rules to a run of plain text
// (never to markup). With FullwidthDigits, ASCII digits are widened so they
// sit upright in vertical layout.
func (p Profile) NormalizeText(s string) string {
	if !p.FullwidthDigits {
		return s
	}
	return WidenDigits(s)
}

// WidenDigits replaces ASCII 0-9 with their fullwidth forms.
func WidenDigits(s string) string {
	if !strings.ContainsAny(s, "0123456789") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteString(width.Widen.String(string(r)))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Fullwidth widens every printable ASCII rune, spaces included. Used for the
// title page, where vertical text reads better with wide forms.
func Fullwidth(s string) string {
	return width.Widen.String(s)
}
