package images

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Query parameters that affect which representation of an image a server
// returns. Everything else (tokens, signatures, cache busters) is identity
// noise and dropped from the key.
var keyParams = map[string]bool{
	"w": true, "width": true,
	"h": true, "height": true,
	"q": true, "quality": true,
	"dpr": true, "format": true, "fm": true, "ext": true,
}

var (
	resizeSuffixRe = regexp.MustCompile(`-\d{2,5}x\d{2,5}$`)
	dprSuffixRe    = regexp.MustCompile(`@\dx$`)
)

// CanonicalKey groups URLs believed to reference the same logical image.
// It strips the fragment, lowercases the host, removes responsive-resize
// suffixes from the filename, and keeps only quality-relevant query
// parameters sorted by name. Resize-suffix stripping runs before query
// filtering so "img-1200x800.jpg" and "img.jpg?w=1200" stay distinct while
// "img-1200x800.jpg" and "img.jpg" collapse. Unparsable input yields "".
func CanonicalKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	cleanPath := stripResizeSuffix(u.Path)

	kept := url.Values{}
	for name, vals := range u.Query() {
		if keyParams[strings.ToLower(name)] && len(vals) > 0 {
			kept.Set(strings.ToLower(name), vals[0])
		}
	}

	key := host + cleanPath
	if len(kept) > 0 {
		names := make([]string, 0, len(kept))
		for name := range kept {
			names = append(names, name)
		}
		sort.Strings(names)
		pairs := make([]string, 0, len(names))
		for _, name := range names {
			pairs = append(pairs, name+"="+kept.Get(name))
		}
		key += "?" + strings.Join(pairs, "&")
	}
	return key
}

// stripResizeSuffix removes "-1200x800", "@2x", and "-scaled" markers from
// the filename portion of a path.
func stripResizeSuffix(p string) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for {
		next := stem
		next = resizeSuffixRe.ReplaceAllString(next, "")
		next = dprSuffixRe.ReplaceAllString(next, "")
		next = strings.TrimSuffix(next, "-scaled")
		if next == stem {
			break
		}
		stem = next
	}
	return dir + stem + ext
}

// KeyHash derives a stable filename stem for a canonical key.
func KeyHash(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

var ctExt = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/avif":    ".avif",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tiff",
	"image/x-icon":  ".ico",
}

// FileExt chooses the stored file extension: URL path extension first, then
// the content type, then a generic placeholder.
func FileExt(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(stripResizeSuffix(u.Path))); ext != "" && ext != "." {
			if nextGenExts[ext] || basicExts[ext] || ext == ".ico" {
				return ext
			}
		}
	}
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if ext, ok := ctExt[mt]; ok {
				return ext
			}
		}
	}
	return ".img"
}
