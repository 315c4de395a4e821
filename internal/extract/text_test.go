package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const articlePage = `<html>
<head><title>Release Notes</title></head>
<body>
<nav class="main-nav"><a href="/">Home</a></nav>
<div class="cookie-banner">We use cookies</div>
<article>
<h1>Version 2.0</h1>
<p>This release adds streaming output and fixes several crashes reported
since the previous version shipped to production environments.</p>
</article>
<footer id="site-footer">Copyright</footer>
</body>
</html>`

func TestMainPrefersArticle(t *testing.T) {
	t.Parallel()

	frag, textLen, title := Main(articlePage)
	require.Equal(t, "Release Notes", title)
	require.Greater(t, textLen, 50)
	require.Contains(t, frag, "Version 2.0")
	require.NotContains(t, frag, "Home")
	require.NotContains(t, frag, "Copyright")
	require.NotContains(t, frag, "cookies")
}

func TestMainStripsBoilerplateByAttribute(t *testing.T) {
	t.Parallel()

	html := `<html><body><main>
	<p>Real content paragraph that should stay in place.</p>
	<div class="related-posts"><a href="/x">Also read</a></div>
	<div id="social-share">Share this</div>
	<div aria-label="newsletter signup">Subscribe now</div>
	</main></body></html>`

	frag, _, _ := Main(html)
	require.Contains(t, frag, "Real content")
	require.NotContains(t, frag, "Also read")
	require.NotContains(t, frag, "Share this")
	require.NotContains(t, frag, "Subscribe now")
}

func TestMainKeepsRoleMain(t *testing.T) {
	t.Parallel()

	// role=main must survive even though "main" is a boilerplate keyword
	// substring match on other attributes.
	html := `<html><body><div role="main"><p>kept text body</p></div></body></html>`
	frag, textLen, _ := Main(html)
	require.Contains(t, frag, "kept text body")
	require.Greater(t, textLen, 0)
}

func TestMainFallsBackToBody(t *testing.T) {
	t.Parallel()

	html := `<html><body><p>plain page with no landmarks at all</p></body></html>`
	frag, textLen, _ := Main(html)
	require.Contains(t, frag, "plain page")
	require.Greater(t, textLen, 10)
}

func TestMainRemovesScriptsBeforeMeasuring(t *testing.T) {
	t.Parallel()

	html := `<html><body><main><script>var x = "aaaaaaaaaaaaaaaaaaaa";</script><p>hi</p></main></body></html>`
	_, textLen, _ := Main(html)
	require.Equal(t, len("hi"), textLen)
}

func TestMainEmptyDocument(t *testing.T) {
	t.Parallel()

	frag, textLen, title := Main("")
	require.Empty(t, frag)
	require.Zero(t, textLen)
	require.Empty(t, title)
}

func TestConverterMarkdown(t *testing.T) {
	t.Parallel()

	c := NewConverter()
	md, err := c.Markdown(`<h1>Title</h1><p>Body with <strong>bold</strong> text.</p>`)
	require.NoError(t, err)
	require.Contains(t, md, "# Title")
	require.Contains(t, md, "**bold**")
}

func TestConverterMarkdownTable(t *testing.T) {
	t.Parallel()

	c := NewConverter()
	md, err := c.Markdown(`<table><tr><th>Name</th></tr><tr><td>Ada</td></tr></table>`)
	require.NoError(t, err)
	require.Contains(t, md, "| Name |")
	require.Contains(t, md, "| Ada |")
}

func TestConverterMarkdownEmpty(t *testing.T) {
	t.Parallel()

	c := NewConverter()
	_, err := c.Markdown("   ")
	require.Error(t, err)
}

func TestIsInterstitial(t *testing.T) {
	t.Parallel()

	require.True(t, IsInterstitial(`<html><body><h1>Just a moment...</h1></body></html>`))
	require.True(t, IsInterstitial(`<html><body>Checking your browser before accessing</body></html>`))
	require.True(t, IsInterstitial(`<div class="g-recaptcha"></div>`))
	require.False(t, IsInterstitial(articlePage))
	require.False(t, IsInterstitial(""))
}

func TestIsInterstitialIgnoresLargeDocuments(t *testing.T) {
	t.Parallel()

	// A long article that mentions CAPTCHAs is content, not a challenge.
	long := "<html><body><p>just a moment</p>" + strings.Repeat("<p>real prose</p>", 2000) + "</body></html>"
	require.False(t, IsInterstitial(long))
}
