package prompt

import (
	"strconv"
	"strings"
	"unicode/utf8"

	units "github.com/docker/go-units"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count the way the file metadata block shows it,
// for example "512 Bytes" or "1.5 KB".
func FormatSize(size int64) string {
	if size <= 0 {
		return "0 Bytes"
	}
	human := units.CustomSize("%.2f %s", float64(size), 1024.0, sizeUnits)
	number, unit, _ := strings.Cut(human, " ")
	if f, err := strconv.ParseFloat(number, 64); err == nil {
		number = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return number + " " + unit
}

// TextStats summarizes an inlined text file.
type TextStats struct {
	Lines      int
	Words      int
	Characters int
}

// Measure counts lines, words and characters. A trailing newline does not
// start a new line.
func Measure(content string) TextStats {
	if content == "" {
		return TextStats{}
	}
	lines := strings.Count(content, "\n") + 1
	if strings.HasSuffix(content, "\n") {
		lines--
	}
	return TextStats{
		Lines:      lines,
		Words:      len(strings.Fields(content)),
		Characters: utf8.RuneCountInString(content),
	}
}
