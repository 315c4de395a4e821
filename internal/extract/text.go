// Package extract pulls main content and image references out of pages.
package extract

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
)

// MinTextLen is the plain-text length below which the light pass is
// considered insufficient and a rendered pass is attempted.
const MinTextLen = 400

// Section is one page's extracted content.
type Section struct {
	Title    string
	URL      string
	Markdown string
}

// contentSelectors are tried in order; the first match wins.
var contentSelectors = []string{
	"main",
	"article",
	"[role=main]",
	"#content",
	"#main-content",
	".content",
	".post-content",
	".entry-content",
	".article-body",
	".markdown-body",
	"body",
}

// boilerplateKeywords match id/class/aria-label/role values of elements that
// are navigation or chrome, not content.
var boilerplateKeywords = []string{
	"nav", "menu", "footer", "sidebar", "breadcrumb",
	"cookie", "banner", "consent", "popup", "modal",
	"social", "share", "related", "recommend",
	"comment", "advert", "promo", "subscribe", "newsletter",
}

// structuralJunk is removed outright before text measurement.
const structuralJunk = "script, style, noscript, iframe, svg, form, button"

// Main extracts the page's main-content fragment. It returns the fragment's
// HTML, the plain-text length of the fragment, and the document title.
func Main(html string) (fragment string, textLen int, title string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", 0, ""
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find(structuralJunk).Remove()
	stripBoilerplate(doc)

	for _, sel := range contentSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		text := collapseSpace(node.Text())
		if text == "" {
			continue
		}
		frag, err := goquery.OuterHtml(node)
		if err != nil {
			continue
		}
		return frag, len(text), title
	}
	return "", 0, title
}

func stripBoilerplate(doc *goquery.Document) {
	doc.Find("[id], [class], [aria-label], [role]").Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		class, _ := sel.Attr("class")
		aria, _ := sel.Attr("aria-label")
		role, _ := sel.Attr("role")
		if role == "main" {
			return
		}
		probe := strings.ToLower(id + " " + class + " " + aria + " " + role)
		for _, kw := range boilerplateKeywords {
			if strings.Contains(probe, kw) {
				sel.Remove()
				return
			}
		}
	})
	// Bare structural elements without identifying attributes.
	doc.Find("nav, footer, aside, header").Remove()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Converter turns HTML fragments into Markdown.
type Converter struct {
	conv *converter.Converter
}

// NewConverter builds a Markdown converter with table support.
func NewConverter() *Converter {
	return &Converter{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown converts an HTML fragment to Markdown.
func (c *Converter) Markdown(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", fmt.Errorf("empty fragment")
	}
	out, err := c.conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}
