// Package images canonicalizes, scores, and deduplicates image candidates
// into a best-payload-per-logical-image table backed by temporary storage.
package images

import (
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Scoring weights. The URL-derived score estimates quality before any bytes
// are seen; once bytes exist their length is added on top, which dominates
// everything below for realistically sized images.
const (
	widthOnlyWeight  = 700
	formatBonusNext  = 5000
	formatBonusBasic = 2000
	qualityBonus     = 1500
	dprBonus         = 1000
	thumbPenalty     = 4000
)

var nextGenExts = map[string]bool{".avif": true, ".webp": true, ".jxl": true}

var basicExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tiff": true, ".svg": true,
}

var thumbMarkers = []string{"thumb", "thumbnail", "favicon", "sprite", "icon-", "/icons/", "-small", "_small"}

// ScoreURL estimates the quality of an image representation from its URL
// alone. It is total: malformed input scores 0.
func ScoreURL(rawURL string) int {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return 0
	}
	q := u.Query()
	score := sizeScore(u, q)

	ext := strings.ToLower(path.Ext(stripResizeSuffix(u.Path)))
	switch {
	case nextGenExts[ext]:
		score += formatBonusNext
	case basicExts[ext]:
		score += formatBonusBasic
	}

	if qv := firstQuery(q, "quality", "q"); qv >= 70 {
		score += qualityBonus
	}
	if firstQuery(q, "dpr") >= 2 || strings.Contains(u.Path, "@2x") || strings.Contains(u.Path, "@3x") {
		score += dprBonus
	}

	lowerPath := strings.ToLower(u.Path)
	for _, marker := range thumbMarkers {
		if strings.Contains(lowerPath, marker) {
			score -= thumbPenalty
			break
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ScoreBuffer computes the final score for a materialized representation:
// the URL heuristic plus raw byte length, the strongest signal available.
func ScoreBuffer(rawURL string, size int) int {
	return ScoreURL(rawURL) + size
}

func sizeScore(u *url.URL, q url.Values) int {
	w := firstQuery(q, "width", "w")
	h := firstQuery(q, "height", "h")
	if w == 0 && h == 0 {
		w, h = dimensionsFromPath(u.Path)
	}
	switch {
	case w > 0 && h > 0:
		return w * h
	case w > 0:
		return w * widthOnlyWeight
	case h > 0:
		return h * widthOnlyWeight
	default:
		return 0
	}
}

// dimensionsFromPath reads a -1200x800 style suffix as a size hint.
func dimensionsFromPath(p string) (int, int) {
	base := path.Base(p)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return 0, 0
	}
	parts := strings.SplitN(base[idx+1:], "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 || w > 20000 || h > 20000 {
		return 0, 0
	}
	return w, h
}

func firstQuery(q url.Values, keys ...string) int {
	for _, key := range keys {
		if v := q.Get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}
