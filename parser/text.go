package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// NormalizeText strips markup, including script and style content, from raw
// and collapses all whitespace runs, newlines and non-breaking spaces
// included, into single spaces.
func NormalizeText(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	text := raw
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
		doc.Find("script, style").Remove()
		text = doc.Text()
	}
	// strings.Fields treats U+00A0 as a space.
	return strings.Join(strings.Fields(text), " ")
}
