// Package ingest supplies conversations to the pipeline's fetch phase.
// Helpdesk exports carry HTML email bodies; this package reduces them to the
// plain text the classifier and theme extractor consume.
package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var multiWhitespace = regexp.MustCompile(`[ \t]+`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

// ExtractMessageText parses an HTML email body and returns its plain text.
// Quoted reply history and signature blocks are removed so repeated
// back-and-forth does not dominate classification or embedding input.
func ExtractMessageText(html string) (string, error) {
	// Plain-text bodies pass through untouched
	if !strings.Contains(html, "<") {
		return cleanWhitespace(html), nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML body: %w", err)
	}

	// Remove markup that never carries conversation content
	doc.Find("script, style, head, img, svg").Remove()

	// Remove quoted reply history and signatures common to mail clients
	doc.Find("blockquote, .gmail_quote, .gmail_signature, .yahoo_quoted, #divRplyFwdMsg, .moz-cite-prefix, .signature").Remove()

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}
	return cleanWhitespace(text), nil
}

// cleanWhitespace collapses runs of spaces and blank lines
func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(multiWhitespace.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = multiNewline.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
