package extract

import (
	"cmp"
	"fmt"
	"html"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// Selectors locate the required fields on a chapter page.
type Selectors struct {
	ContentRoot string
	BookTitle   string
	ItemTitle   string
}

// DefaultSelectors match the chapter layout the harvester was built for.
func DefaultSelectors() Selectors {
	return Selectors{
		ContentRoot: "#content",
		BookTitle:   "a.booktitle",
		ItemTitle:   "span.chapter-title",
	}
}

// Config tunes the extractor. Zero fields take defaults.
type Config struct {
	Selectors Selectors
	// NoiseSelectors are removed from the content root outright.
	NoiseSelectors []string
	// NoiseClassTerms are matched case-insensitively as substrings of the
	// class attribute.
	NoiseClassTerms []string
	// NoiseIDTerms are matched case-insensitively as substrings of the id.
	NoiseIDTerms []string
	// Decorations are stripped from the final text, mapped to their
	// replacement.
	Decorations map[string]string
}

// DefaultConfig returns the stock denylists.
func DefaultConfig() Config {
	return Config{
		Selectors:       DefaultSelectors(),
		NoiseSelectors:  []string{"p.box-notification", "script", "style", "iframe", "ins", "noscript"},
		NoiseClassTerms: []string{"ad", "banner", "hidden"},
		NoiseIDTerms:    []string{"ad"},
		Decorations:     map[string]string{"~": "", "→": " "},
	}
}

// Item is the result of a successful extraction.
type Item struct {
	BookTitle string
	ItemTitle string
	Body      string
}

// Extractor is safe for concurrent use.
type Extractor struct {
	cfg         Config
	noiseSel    string
	decorations *strings.Replacer
}

// New creates an extractor, filling unset config from DefaultConfig.
func New(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.Selectors.ContentRoot == "" {
		cfg.Selectors.ContentRoot = def.Selectors.ContentRoot
	}
	if cfg.Selectors.BookTitle == "" {
		cfg.Selectors.BookTitle = def.Selectors.BookTitle
	}
	if cfg.Selectors.ItemTitle == "" {
		cfg.Selectors.ItemTitle = def.Selectors.ItemTitle
	}
	if cfg.NoiseSelectors == nil {
		cfg.NoiseSelectors = def.NoiseSelectors
	}
	if cfg.NoiseClassTerms == nil {
		cfg.NoiseClassTerms = def.NoiseClassTerms
	}
	if cfg.NoiseIDTerms == nil {
		cfg.NoiseIDTerms = def.NoiseIDTerms
	}
	if cfg.Decorations == nil {
		cfg.Decorations = def.Decorations
	}
	// Replacer tries pairs in argument order, so longest key first.
	keys := slices.Collect(maps.Keys(cfg.Decorations))
	slices.SortFunc(keys, func(a, b string) int {
		if n := cmp.Compare(len(b), len(a)); n != 0 {
			return n
		}
		return cmp.Compare(a, b)
	})
	pairs := make([]string, 0, len(keys)*2)
	for _, from := range keys {
		pairs = append(pairs, from, cfg.Decorations[from])
	}
	return &Extractor{
		cfg:         cfg,
		noiseSel:    strings.Join(cfg.NoiseSelectors, ", "),
		decorations: strings.NewReplacer(pairs...),
	}
}

// Selectors returns the effective selectors.
func (e *Extractor) Selectors() Selectors {
	return e.cfg.Selectors
}

// Extract parses rawPage and returns the titles and cleaned body. A missing
// field yields a *harvest.MissingFieldError.
func (e *Extractor) Extract(rawPage string) (Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawPage))
	if err != nil {
		return Item{}, fmt.Errorf("parse page: %w", err)
	}

	root := doc.Find(e.cfg.Selectors.ContentRoot).First()
	if root.Length() == 0 {
		return Item{}, &harvest.MissingFieldError{Field: "content", Err: harvest.ErrContentRootNotFound}
	}
	book := strings.TrimSpace(doc.Find(e.cfg.Selectors.BookTitle).First().Text())
	if book == "" {
		return Item{}, &harvest.MissingFieldError{Field: "book title"}
	}
	title := strings.TrimSpace(doc.Find(e.cfg.Selectors.ItemTitle).First().Text())
	if title == "" {
		return Item{}, &harvest.MissingFieldError{Field: "item title"}
	}

	e.removeNoise(root)
	inner, err := root.Html()
	if err != nil {
		return Item{}, fmt.Errorf("render content: %w", err)
	}
	body := e.decorations.Replace(ToText(inner))
	body = strings.TrimSpace(body)
	if body == "" {
		return Item{}, &harvest.MissingFieldError{Field: "body"}
	}
	return Item{BookTitle: book, ItemTitle: title, Body: body}, nil
}

var obfuscatedTag = regexp.MustCompile(`^nf[0-9a-f]+$`)

func (e *Extractor) removeNoise(root *goquery.Selection) {
	if e.noiseSel != "" {
		root.Find(e.noiseSel).Remove()
	}
	root.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return e.isNoise(s)
	}).Remove()
}

func (e *Extractor) isNoise(s *goquery.Selection) bool {
	if obfuscatedTag.MatchString(goquery.NodeName(s)) {
		return true
	}
	if class, ok := s.Attr("class"); ok && containsAny(strings.ToLower(class), e.cfg.NoiseClassTerms) {
		return true
	}
	if id, ok := s.Attr("id"); ok && containsAny(strings.ToLower(id), e.cfg.NoiseIDTerms) {
		return true
	}
	if style, ok := s.Attr("style"); ok {
		style = strings.ToLower(strings.Join(strings.Fields(style), ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

func containsAny(value string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(value, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

var (
	lineBreak      = regexp.MustCompile(`(?i)<br\s*/?>`)
	paragraphOpen  = regexp.MustCompile(`(?i)<p(?:\s[^>]*)?>`)
	paragraphClose = regexp.MustCompile(`(?i)</p\s*>`)
	comment        = regexp.MustCompile(`(?s)<!--.*?-->`)
	anyTag         = regexp.MustCompile(`<[^>]+>`)
	horizontalWS   = regexp.MustCompile(`[ \t\x{00a0}]+`)
	blankLines     = regexp.MustCompile(`(\r\n|\r|\n){2,}`)
)

// ToText reduces an HTML fragment to blank-line separated paragraphs of
// readable lines.
func ToText(fragment string) string {
	text := lineBreak.ReplaceAllString(fragment, "\n")
	text = paragraphOpen.ReplaceAllString(text, "\n\n")
	text = paragraphClose.ReplaceAllString(text, "")
	text = comment.ReplaceAllString(text, "")
	text = anyTag.ReplaceAllString(text, " ")
	text = html.UnescapeString(strings.TrimSpace(text))
	text = strings.TrimSpace(horizontalWS.ReplaceAllString(text, " "))
	text = strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n"))

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if IsReadableLine(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n\n")
}
