package conversation

import "strings"

const maxTitleRunes = 40

var titleStripper = strings.NewReplacer(
	"`", " ",
	"*", " ",
	"_", " ",
	"#", " ",
	">", " ",
	"\n", " ",
	"\r", " ",
)

// NormalizeTitle strips markdown emphasis/heading/quote characters and line
// breaks, collapses whitespace and caps the result at 40 runes. Returns ""
// when nothing printable remains.
func NormalizeTitle(raw string) string {
	cleaned := strings.Join(strings.Fields(titleStripper.Replace(raw)), " ")
	if cleaned == "" {
		return ""
	}
	runes := []rune(cleaned)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes])
	}
	return cleaned
}

// FallbackTitle derives a title from the user's message when generation
// failed or returned nothing.
func FallbackTitle(message string) string {
	if title := NormalizeTitle(message); title != "" {
		return title
	}
	return DefaultTitle
}
