package sessiontest

import (
	"fmt"
	"strings"
)

// ListingEntry is one row of a listing page.
type ListingEntry struct {
	Number string
	Href   string
}

// ListingHTML renders a chapter listing page in the stock layout. A nil or
// empty entries slice renders a page without a chapter list.
func ListingHTML(entries ...ListingEntry) string {
	if len(entries) == 0 {
		return `<html><head><title>Chapters</title></head><body><p>No chapters.</p></body></html>`
	}
	var b strings.Builder
	b.WriteString(`<html><head><title>Chapters</title></head><body><ul class="chapter-list">`)
	for _, e := range entries {
		b.WriteString("<li>")
		if e.Href != "" {
			fmt.Fprintf(&b, `<a href="%s">`, e.Href)
		} else {
			b.WriteString("<a>")
		}
		if e.Number != "" {
			fmt.Fprintf(&b, `<span class="chapter-no">%s</span>`, e.Number)
		}
		b.WriteString(`<strong class="chapter-title">Chapter</strong></a></li>`)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

// ChapterHTML renders a chapter page in the stock layout.
func ChapterHTML(book, title string, paragraphs ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><head><title>%s</title></head><body>`, title)
	fmt.Fprintf(&b, `<a class="booktitle" href="/book">%s</a><span class="chapter-title">%s</span><div id="content">`, book, title)
	for _, p := range paragraphs {
		fmt.Fprintf(&b, "<p>%s</p>", p)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// BlockedPage is a rate-limit interstitial.
func BlockedPage() Page {
	return Page{
		Title: "Error 1015",
		HTML:  `<html><head><title>Error 1015</title></head><body><h1>You are being rate limited</h1></body></html>`,
	}
}
