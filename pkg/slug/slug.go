// Package slug turns segment text into short, filesystem safe names.
package slug

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const MaxLen = 30

var forbidden = strings.NewReplacer(
	`\`, "", "/", "", "*", "", "?", "", ":", "", `"`, "", "<", "", ">", "", "|", "",
	"đ", "d", "Đ", "D",
)

// Make strips accents and characters that are illegal in file names, then
// keeps the first MaxLen runes.
func Make(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	clean, _, err := transform.String(t, text)
	if err != nil {
		clean = text
	}

	clean = forbidden.Replace(clean)
	clean = strings.Join(strings.Fields(clean), " ")

	r := []rune(clean)
	if len(r) > MaxLen {
		r = r[:MaxLen]
	}

	return strings.TrimSpace(string(r))
}

// FileName is "<index:02>_<slug>.<ext>", falling back to segment_<index>.
func FileName(index int, text, ext string) string {
	name := Make(text)
	if name == "" {
		name = fmt.Sprintf("segment_%d", index)
	}
	return fmt.Sprintf("%02d_%s.%s", index, name, strings.TrimPrefix(ext, "."))
}
