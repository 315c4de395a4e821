package document

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitegrab/sitegrab/internal/extract"
)

func TestBuildProducesPDF(t *testing.T) {
	t.Parallel()

	sections := []extract.Section{
		{
			Title:    "Getting Started",
			URL:      "https://example.com/docs/start",
			Markdown: "# Getting Started\n\nInstall the tool and run it.\n\nSee [the guide](https://example.com/guide).",
		},
		{
			Title:    "Configuration",
			URL:      "https://example.com/docs/config",
			Markdown: "## Options\n\n- one\n- two",
		},
	}

	out, err := Build("example.com", sections)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF-")), "missing PDF magic")
	require.Greater(t, len(out), 1000)
}

func TestBuildEmptySections(t *testing.T) {
	t.Parallel()

	out, err := Build("example.com", nil)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestBuildSectionWithoutTitleUsesURL(t *testing.T) {
	t.Parallel()

	sections := []extract.Section{
		{URL: "https://example.com/untitled", Markdown: "body text"},
	}
	out, err := Build("example.com", sections)
	require.NoError(t, err)
	require.NotEmpty(t, out)
}
