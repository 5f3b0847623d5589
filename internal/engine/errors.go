package engine

import (
	"errors"
	"strings"
)

// Sentinel errors for the strategy layer. Strategies return these (or
// wrap them) so the orchestrator can tell a block from a breakage.
var (
	// ErrAntiBot means the response carried an anti-bot indicator.
	// Remaining retries on the current strategy are skipped and
	// escalation is immediate.
	ErrAntiBot = errors.New("anti-bot challenge detected")

	// ErrNotSupported means the strategy cannot serve this domain at
	// all (e.g. no known JSON API). Escalation proceeds without
	// consuming the retry budget.
	ErrNotSupported = errors.New("strategy not supported for this domain")

	// ErrChallengeUnsolved means a challenge was found but no solver
	// produced a solution within its budget.
	ErrChallengeUnsolved = errors.New("challenge could not be solved")

	// ErrExhausted means every applicable strategy ran out of retries.
	ErrExhausted = errors.New("all strategies exhausted")

	// ErrConfiguration covers unusable retailer or engine settings.
	ErrConfiguration = errors.New("invalid configuration")
)

// defaultAntiBotIndicators are matched case-insensitively against
// response bodies and error text. Retailer configs extend this list
// with their own markers.
var defaultAntiBotIndicators = []string{
	"captcha",
	"robot check",
	"security challenge",
	"unusual traffic",
	"are you a human",
	"access to this page has been denied",
	"verify you are human",
	"pardon our interruption",
}

// antiBotIndicator reports the first indicator found in text, checking
// the site-declared markers before the defaults.
func antiBotIndicator(text string, siteMarkers []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, marker := range siteMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return marker, true
		}
	}
	for _, marker := range defaultAntiBotIndicators {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}
