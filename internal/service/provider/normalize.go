package provider

import (
	"regexp"
	"strings"
)

var (
	starRunPattern  = regexp.MustCompile(`\*{3,}`)
	bulletPattern   = regexp.MustCompile(`(?m)^([ \t]*)\*[ \t]+`)
	boldPattern     = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	emphasisPattern = regexp.MustCompile(`\*([^*\n]+?)\*`)
	blankRunPattern = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// Normalize strips markdown emphasis markers and collapses blank lines.
// The result is a fixed point, so Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	for {
		next := normalizeOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

// normalizeOnce never lengthens its input, so Normalize terminates.
func normalizeOnce(text string) string {
	text = starRunPattern.ReplaceAllString(text, "")
	text = bulletPattern.ReplaceAllString(text, "$1")
	text = boldPattern.ReplaceAllString(text, "$1")
	text = emphasisPattern.ReplaceAllString(text, "$1")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
