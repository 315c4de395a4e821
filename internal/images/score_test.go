package images

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreURLDimensions(t *testing.T) {
	t.Parallel()

	both := ScoreURL("https://cdn.example.com/a.jpg?width=1200&height=800")
	widthOnly := ScoreURL("https://cdn.example.com/a.jpg?w=1200")
	none := ScoreURL("https://cdn.example.com/a.jpg")

	require.Greater(t, both, widthOnly)
	require.Greater(t, widthOnly, none)
	require.Equal(t, 1200*800+formatBonusBasic, both)
}

func TestScoreURLPathDimensions(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1200*800+formatBonusBasic, ScoreURL("https://example.com/img-1200x800.jpg"))
}

func TestScoreURLFormatOrdering(t *testing.T) {
	t.Parallel()

	webp := ScoreURL("https://example.com/photo.webp")
	jpg := ScoreURL("https://example.com/photo.jpg")
	unknown := ScoreURL("https://example.com/photo")

	require.Greater(t, webp, jpg)
	require.Greater(t, jpg, unknown)
}

func TestScoreURLBonusesAndPenalties(t *testing.T) {
	t.Parallel()

	require.Equal(t, formatBonusBasic+qualityBonus, ScoreURL("https://example.com/a.jpg?quality=85"))
	require.Equal(t, formatBonusBasic+dprBonus, ScoreURL("https://example.com/a.jpg?dpr=2"))
	require.Equal(t, formatBonusBasic+dprBonus, ScoreURL("https://example.com/a@2x.jpg"))

	thumb := ScoreURL("https://example.com/thumbnails/a.jpg")
	full := ScoreURL("https://example.com/photos/a.jpg")
	require.Less(t, thumb, full)
}

func TestScoreURLNeverNegativeOrErring(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, ScoreURL("http://%zz"))
	require.GreaterOrEqual(t, ScoreURL("https://example.com/favicon.ico"), 0)
	require.Equal(t, 0, ScoreURL(""))
}

func TestScoreBufferDominatedBySize(t *testing.T) {
	t.Parallel()

	small := ScoreBuffer("https://example.com/a.webp?w=2000&h=2000", 10)
	large := ScoreBuffer("https://example.com/a.jpg", 5_000_000)
	require.Greater(t, large, small)
}
