package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

const chapterPage = `<html><head><title>Chapter 12</title></head><body>
<a class="booktitle" href="/book/demo"> The Demo Book </a>
<span class="chapter-title">Chapter 12: The Gate</span>
<div id="content">
  <p class="box-notification">Read on our site!</p>
  <p>The rain had stopped.</p>
  <p>“Who goes there?”</p>
  <nf3a9c>hidden tracker</nf3a9c>
  <p>~He raised the lantern → slowly.</p>
  <div class="AdSlot">BUY NOW</div>
  <div id="top-ad">sponsored</div>
  <div class="promo-banner">banner copy</div>
  <span style="display: none">invisible</span>
  <script>var tracking = true;</script>
  <ins class="adsbygoogle"></ins>
  <!-- comment text -->
  <p>A</p>
  <p>***</p>
  <p>Fish &amp; chips&nbsp;&nbsp;for   dinner.<br/>Second line here.</p>
</div>
</body></html>`

func TestExtractCleansContent(t *testing.T) {
	t.Parallel()

	item, err := New(Config{}).Extract(chapterPage)
	require.NoError(t, err)
	require.Equal(t, "The Demo Book", item.BookTitle)
	require.Equal(t, "Chapter 12: The Gate", item.ItemTitle)

	want := strings.Join([]string{
		"The rain had stopped.",
		"“Who goes there?”",
		"He raised the lantern   slowly.",
		"Fish & chips for dinner.",
		"Second line here.",
	}, "\n\n")
	require.Equal(t, want, item.Body)

	for _, noise := range []string{"Read on our site", "tracker", "BUY NOW", "sponsored", "banner copy", "invisible", "tracking", "comment text"} {
		require.NotContains(t, item.Body, noise)
	}
}

func TestDecorationsPreferLongestKey(t *testing.T) {
	t.Parallel()

	cfg := Config{Decorations: map[string]string{"~": "", "~~": " == ", "→": " "}}
	page := `<a class="booktitle">Book</a><span class="chapter-title">One</span>` +
		`<div id="content"><p>Section~~break~here → now.</p></div>`
	for range 20 {
		item, err := New(cfg).Extract(page)
		require.NoError(t, err)
		require.Equal(t, "Section == breakhere   now.", item.Body)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()

	ex := New(Config{})
	first, err := ex.Extract(chapterPage)
	require.NoError(t, err)
	second, err := ex.Extract(chapterPage)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestExtractMissingFields(t *testing.T) {
	t.Parallel()

	ex := New(Config{})
	cases := map[string]struct {
		page  string
		field string
	}{
		"no content root": {
			page:  `<a class="booktitle">B</a><span class="chapter-title">T</span>`,
			field: "content",
		},
		"no book title": {
			page:  `<span class="chapter-title">T</span><div id="content"><p>Some text here.</p></div>`,
			field: "book title",
		},
		"no item title": {
			page:  `<a class="booktitle">B</a><div id="content"><p>Some text here.</p></div>`,
			field: "item title",
		},
		"empty body": {
			page:  `<a class="booktitle">B</a><span class="chapter-title">T</span><div id="content"><p>***</p><p>x</p></div>`,
			field: "body",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ex.Extract(tc.page)
			var mf *harvest.MissingFieldError
			require.ErrorAs(t, err, &mf)
			require.Equal(t, tc.field, mf.Field)
		})
	}

	_, err := ex.Extract(`<div></div>`)
	require.ErrorIs(t, err, harvest.ErrContentRootNotFound)
}

func TestExtractCustomSelectors(t *testing.T) {
	t.Parallel()

	ex := New(Config{Selectors: Selectors{ContentRoot: "article", BookTitle: "h1", ItemTitle: "h2"}})
	item, err := ex.Extract(`<h1>Book</h1><h2>Part One</h2><article><p>Once upon a time.</p></article>`)
	require.NoError(t, err)
	require.Equal(t, "Once upon a time.", item.Body)
	require.Equal(t, "article", ex.Selectors().ContentRoot)
	require.Equal(t, "#content", DefaultSelectors().ContentRoot)
}

func TestToTextCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	got := ToText("<p>First   line.</p>\n\n\n\n<p>Second\tline.</p>")
	require.Equal(t, "First line.\n\nSecond line.", got)
}
