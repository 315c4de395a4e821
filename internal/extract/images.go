package extract

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// InlineImage is a decoded data-URI payload.
type InlineImage struct {
	Data        []byte
	ContentType string
}

// ImageRefs is everything one page's DOM points at.
type ImageRefs struct {
	URLs   []string      // absolute image URLs
	Inline []InlineImage // decoded data-URIs
	Assets []string      // stylesheets and scripts worth scanning for more URLs
}

// lazyAttrs are common lazy-load attribute names checked on img and source
// elements in addition to src.
var lazyAttrs = []string{"data-src", "data-lazy-src", "data-lazy", "data-original"}

// Images walks the DOM of a page and gathers every image reference: plain
// sources, the best srcset descriptor, lazy-load attributes, inline
// background styles, icon links, social preview tags, and data-URIs. It
// also returns stylesheet and script URLs for text scanning.
func Images(pageURL, html string) ImageRefs {
	var refs ImageRefs
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return refs
	}

	seen := map[string]bool{}
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		if strings.HasPrefix(strings.ToLower(raw), "data:") {
			if img, ok := ParseDataURI(raw); ok {
				refs.Inline = append(refs.Inline, img)
			}
			return
		}
		abs := resolveRef(pageURL, raw)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		refs.URLs = append(refs.URLs, abs)
	}

	doc.Find("img, source").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			add(src)
		}
		if srcset, ok := sel.Attr("srcset"); ok {
			if best := BestFromSrcset(srcset); best != "" {
				add(best)
			}
		}
		for _, attr := range lazyAttrs {
			if v, ok := sel.Attr(attr); ok {
				add(v)
			}
		}
	})

	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		for _, u := range cssURLs(style) {
			add(u)
		}
	})

	doc.Find(`link[rel~="icon"], link[rel="apple-touch-icon"]`).Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			add(href)
		}
	})

	doc.Find(`meta[property="og:image"], meta[name="twitter:image"]`).Each(func(_ int, sel *goquery.Selection) {
		if content, ok := sel.Attr("content"); ok {
			add(content)
		}
	})

	assetSeen := map[string]bool{}
	doc.Find(`link[rel="stylesheet"], script[src]`).Each(func(_ int, sel *goquery.Selection) {
		raw, ok := sel.Attr("href")
		if !ok {
			raw, ok = sel.Attr("src")
		}
		if !ok {
			return
		}
		abs := resolveRef(pageURL, raw)
		if abs == "" || assetSeen[abs] {
			return
		}
		assetSeen[abs] = true
		refs.Assets = append(refs.Assets, abs)
	})

	return refs
}

var (
	cssURLRe  = regexp.MustCompile(`url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)
	bareImgRe = regexp.MustCompile(`https?://[^\s'"<>()\\]+\.(?:png|jpe?g|gif|webp|avif|svg|ico)\b`)
)

func cssURLs(style string) []string {
	matches := cssURLRe.FindAllStringSubmatch(style, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// ScanAssetText pulls image URLs out of downloaded stylesheet or script
// text: url(...) references and bare absolute image URLs.
func ScanAssetText(baseURL, text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(raw string) {
		if strings.HasPrefix(strings.ToLower(raw), "data:") {
			return
		}
		abs := resolveRef(baseURL, raw)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, abs)
	}
	for _, u := range cssURLs(text) {
		add(u)
	}
	for _, u := range bareImgRe.FindAllString(text, -1) {
		add(u)
	}
	return out
}

type srcsetEntry struct {
	url     string
	width   int
	density float64
}

// BestFromSrcset picks the highest-resolution candidate from a srcset
// attribute. Width descriptors beat density descriptors; a bare URL counts
// as density 1.
func BestFromSrcset(srcset string) string {
	var entries []srcsetEntry
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		entry := srcsetEntry{url: fields[0], density: 1}
		if len(fields) > 1 {
			desc := strings.ToLower(fields[1])
			switch {
			case strings.HasSuffix(desc, "w"):
				if w, err := strconv.Atoi(strings.TrimSuffix(desc, "w")); err == nil {
					entry.width = w
				}
			case strings.HasSuffix(desc, "x"):
				if d, err := strconv.ParseFloat(strings.TrimSuffix(desc, "x"), 64); err == nil {
					entry.density = d
				}
			}
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return ""
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].width != entries[j].width {
			return entries[i].width > entries[j].width
		}
		return entries[i].density > entries[j].density
	})
	return entries[0].url
}

// ParseDataURI decodes a data: URI into bytes. Only base64 payloads are
// supported; percent-encoded text payloads are rare for images and skipped.
func ParseDataURI(uri string) (InlineImage, bool) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return InlineImage{}, false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return InlineImage{}, false
	}
	if !strings.HasSuffix(meta, ";base64") {
		return InlineImage{}, false
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		return InlineImage{}, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return InlineImage{}, false
	}
	return InlineImage{Data: data, ContentType: contentType}, true
}

func resolveRef(base, raw string) string {
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ru, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	abs := bu.ResolveReference(ru)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}
