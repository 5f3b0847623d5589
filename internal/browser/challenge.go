package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pricelens/harvest/internal/captcha"
)

// ChallengeKind classifies an anti-bot interstitial found in page
// content.
type ChallengeKind string

const (
	ChallengeNone       ChallengeKind = ""
	ChallengeCloudflare ChallengeKind = "cloudflare"
	ChallengeCheckbox   ChallengeKind = "checkbox"
	ChallengeImage      ChallengeKind = "image"
)

// challengeMarkers map page content substrings to the challenge they
// indicate. Cloudflare is checked first since its interstitial often
// embeds a checkbox too.
var challengeMarkers = []struct {
	kind    ChallengeKind
	markers []string
}{
	{ChallengeCloudflare, []string{
		"checking your browser",
		"just a moment",
		"cf-challenge",
		"cf-browser-verification",
		"ray id",
	}},
	{ChallengeImage, []string{
		"select all images",
		"type the characters you see",
		"enter the characters",
		"captchacharacters",
	}},
	{ChallengeCheckbox, []string{
		"i'm not a robot",
		"g-recaptcha",
		"h-captcha",
		"cf-turnstile",
	}},
}

// DetectChallenge inspects HTML for known anti-bot interstitials.
func DetectChallenge(html string) ChallengeKind {
	lower := strings.ToLower(html)
	for _, entry := range challengeMarkers {
		for _, marker := range entry.markers {
			if strings.Contains(lower, marker) {
				return entry.kind
			}
		}
	}
	return ChallengeNone
}

// cloudflareWait bounds how long we sit on a Cloudflare interstitial
// waiting for it to clear on its own.
const cloudflareWait = 20 * time.Second

// SolveChallenge attempts to clear the detected challenge in the
// session. Cloudflare interstitials usually clear themselves once the
// stealth fingerprint passes the JS checks; checkbox challenges get a
// humanized click; image challenges go to the solver service.
func (s *Session) SolveChallenge(ctx context.Context, kind ChallengeKind, solver captcha.Solver) error {
	switch kind {
	case ChallengeNone:
		return nil
	case ChallengeCloudflare:
		return s.waitForCloudflare(ctx)
	case ChallengeCheckbox:
		return s.clickChallengeCheckbox(ctx)
	case ChallengeImage:
		return s.solveImageChallenge(ctx, solver)
	}
	return fmt.Errorf("unknown challenge kind %q", kind)
}

// waitForCloudflare polls the page until the interstitial markers
// disappear or the wait budget runs out.
func (s *Session) waitForCloudflare(ctx context.Context) error {
	deadline := time.Now().Add(cloudflareWait)
	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, 2*time.Second); err != nil {
			return err
		}
		html, err := s.HTML(ctx)
		if err != nil {
			return err
		}
		if DetectChallenge(html) != ChallengeCloudflare {
			s.logger.Debug("cloudflare interstitial cleared", zap.String("session", s.ID))
			return nil
		}
	}
	return fmt.Errorf("cloudflare challenge did not clear within %s", cloudflareWait)
}

// checkboxSelectors cover the common verification checkbox layouts.
var checkboxSelectors = []string{
	`iframe[src*="recaptcha"]`,
	`iframe[src*="hcaptcha"]`,
	`input[type="checkbox"]`,
	`.cf-turnstile`,
}

func (s *Session) clickChallengeCheckbox(ctx context.Context) error {
	var lastErr error
	for _, sel := range checkboxSelectors {
		if err := s.HumanClick(ctx, sel); err != nil {
			lastErr = err
			continue
		}
		if err := sleepCtx(ctx, 3*time.Second); err != nil {
			return err
		}
		html, err := s.HTML(ctx)
		if err != nil {
			return err
		}
		if DetectChallenge(html) == ChallengeNone {
			return nil
		}
	}
	if lastErr != nil {
		return fmt.Errorf("checkbox challenge not cleared: %w", lastErr)
	}
	return fmt.Errorf("checkbox challenge not cleared")
}

// imageChallengeSelectors locate the challenge image on common layouts
// including Amazon's character captcha.
var imageChallengeSelectors = []string{
	`form img[src*="captcha"]`,
	`img[alt*="captcha" i]`,
	`.captcha-image img`,
}

func (s *Session) solveImageChallenge(ctx context.Context, solver captcha.Solver) error {
	if solver == nil {
		return captcha.ErrUnsolvable
	}

	var png []byte
	var err error
	for _, sel := range imageChallengeSelectors {
		png, err = s.Screenshot(ctx, sel)
		if err == nil && len(png) > 0 {
			break
		}
	}
	if len(png) == 0 {
		return fmt.Errorf("could not capture challenge image: %w", err)
	}

	pageURL := ""
	_ = s.Run(ctx, chromedp.Location(&pageURL))

	answer, err := solver.Solve(ctx, &captcha.Challenge{
		Type:     captcha.TypeImage,
		PageURL:  pageURL,
		ImagePNG: png,
	})
	if err != nil {
		return err
	}

	if err := s.HumanType(ctx, `input[type="text"]`, answer); err != nil {
		return err
	}
	if err := s.Run(ctx, chromedp.Click(`button[type="submit"], input[type="submit"]`, chromedp.NodeVisible)); err != nil {
		return err
	}
	return sleepCtx(ctx, 2*time.Second)
}
