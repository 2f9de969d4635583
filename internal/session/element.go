package session

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// Node is a harvest.Element backed by a goquery selection.
type Node struct {
	sel *goquery.Selection
}

// NewNode wraps the first node of sel.
func NewNode(sel *goquery.Selection) *Node {
	return &Node{sel: sel.First()}
}

// Text returns the combined text of the node and its descendants.
func (n *Node) Text() string {
	return n.sel.Text()
}

// Attr returns the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

// Find returns the first descendant matching selector.
func (n *Node) Find(selector string) (harvest.Element, bool) {
	match := n.sel.Find(selector)
	if match.Length() == 0 {
		return nil, false
	}
	return NewNode(match), true
}

// Document indexes a page source for selector queries.
type Document struct {
	doc *goquery.Document
}

// ParseDocument parses raw HTML.
func ParseDocument(source string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse page source: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Title returns the trimmed <title> text.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// FindAll returns every match in document order.
func (d *Document) FindAll(selector string) []harvest.Element {
	matches := d.doc.Find(selector)
	out := make([]harvest.Element, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		out = append(out, NewNode(s))
	})
	return out
}

// Find returns the first match or harvest.ErrElementNotFound.
func (d *Document) Find(selector string) (harvest.Element, error) {
	match := d.doc.Find(selector)
	if match.Length() == 0 {
		return nil, fmt.Errorf("%s: %w", selector, harvest.ErrElementNotFound)
	}
	return NewNode(match), nil
}

// Has reports whether selector matches anything.
func (d *Document) Has(selector string) bool {
	return d.doc.Find(selector).Length() > 0
}
