package extract

import "strings"

// challengeMarkers appear in bot-verification interstitials. Matching is
// restricted to short documents so an article about CAPTCHAs is not
// misclassified.
var challengeMarkers = []string{
	"checking your browser",
	"just a moment",
	"verify you are human",
	"verifying you are human",
	"attention required",
	"ddos protection by",
	"cf-challenge",
	"cf-turnstile",
	"h-captcha",
	"g-recaptcha",
	"access denied",
	"are you a robot",
}

// interstitialMaxLen bounds the document size eligible for challenge
// detection. Real content pages are rarely this small.
const interstitialMaxLen = 16 << 10

// IsInterstitial reports whether a document looks like a bot-verification
// or block page rather than real content.
func IsInterstitial(html string) bool {
	if len(html) == 0 {
		return false
	}
	if len(html) > interstitialMaxLen {
		return false
	}
	lower := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
