package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "This is **important** text", "This is important text"},
		{"emphasis", "An *emphasized* word", "An emphasized word"},
		{"bullets", "* first\n* second\n  * nested", "first\nsecond\n  nested"},
		{"star runs", "Title\n***\nBody", "Title\n\nBody"},
		{"blank lines", "a\n\n\n\nb\n \n\t\nc", "a\n\nb\n\nc"},
		{"plain untouched", "2 * 3 = 6", "2 * 3 = 6"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"** * b",
		"*a*b*c*",
		"x **y** *",
		"**bold** and *em* with ***** runs\n\n\n\n* list item *with* stars",
		"* * * *",
		"   \n\n\n   ",
		"normal sentence.",
	}

	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}
