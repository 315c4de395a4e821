package images

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalKeyCollapsesResponsiveVariants(t *testing.T) {
	t.Parallel()

	variants := []string{
		"https://example.com/uploads/img.jpg",
		"https://example.com/uploads/img-1200x800.jpg",
		"https://example.com/uploads/img-scaled.jpg",
		"https://example.com/uploads/img@2x.jpg",
		"https://EXAMPLE.com/uploads/img.jpg#hero",
		"https://example.com/uploads/img.jpg?token=abc&sig=xyz",
	}
	want := CanonicalKey(variants[0])
	require.NotEmpty(t, want)
	for _, v := range variants[1:] {
		require.Equal(t, want, CanonicalKey(v), v)
	}
}

func TestCanonicalKeyStackedSuffixes(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		CanonicalKey("https://example.com/img.png"),
		CanonicalKey("https://example.com/img-scaled-1200x800@2x.png"),
	)
}

func TestCanonicalKeyKeepsQualityParams(t *testing.T) {
	t.Parallel()

	small := CanonicalKey("https://example.com/img.jpg?w=400")
	large := CanonicalKey("https://example.com/img.jpg?w=1200")
	require.NotEqual(t, small, large)

	// Order of kept parameters does not matter.
	a := CanonicalKey("https://example.com/img.jpg?h=800&w=1200")
	b := CanonicalKey("https://example.com/img.jpg?w=1200&h=800")
	require.Equal(t, a, b)
}

func TestCanonicalKeyIdempotent(t *testing.T) {
	t.Parallel()

	key := CanonicalKey("https://example.com/a/b/img-600x400.webp?w=600&token=x")
	require.Equal(t, key, CanonicalKey("https://"+key))
}

func TestCanonicalKeyRejectsGarbage(t *testing.T) {
	t.Parallel()

	require.Empty(t, CanonicalKey("http://%zz"))
	require.Empty(t, CanonicalKey("/relative/only.jpg"))
}

func TestFileExt(t *testing.T) {
	t.Parallel()

	require.Equal(t, ".jpg", FileExt("https://example.com/a-1200x800.jpg?x=1", ""))
	require.Equal(t, ".webp", FileExt("https://example.com/asset", "image/webp"))
	require.Equal(t, ".png", FileExt("", "image/png; charset=binary"))
	require.Equal(t, ".img", FileExt("https://example.com/asset", "application/octet-stream"))
	require.Equal(t, ".img", FileExt("", ""))
}
