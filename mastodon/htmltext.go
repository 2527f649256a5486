package mastodon

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Text converts status HTML to the plain text used for mail subject and
// body. Paragraphs become blank-line separated blocks, <br> becomes a
// newline, anchor tags are dropped but their text is kept. Malformed HTML
// falls back to the raw input.
func Text(html string) string {
	if html == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}

	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	// Paragraph boundaries become blank lines. Stray text nodes (for
	// example a prepended spoiler warning) survive because the text is
	// taken from the whole body, not per paragraph.
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n\n")
	})

	return strings.TrimSpace(doc.Find("body").Text())
}
