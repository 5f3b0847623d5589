package browser

import (
	"context"
	"fmt"
	mathrand "math/rand"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Interaction pacing. Keystrokes land 50-150ms apart; reading pauses
// run 2-8s, stretched to 3-8s when lingering on a page; scroll steps
// cover a viewport-ish chunk at a time.
const (
	keyDelayMin = 50 * time.Millisecond
	keyDelayMax = 150 * time.Millisecond

	readPauseMin = 2 * time.Second
	readPauseMax = 8 * time.Second

	lingerPauseMin = 3 * time.Second
	lingerPauseMax = 8 * time.Second
)

func randomDelay(min, max time.Duration) time.Duration {
	return min + time.Duration(mathrand.Int63n(int64(max-min)))
}

// HumanizeVisit performs the idle behavior of a person skimming a
// results page: incremental scrolls with reading pauses and a few
// stray mouse movements.
func (s *Session) HumanizeVisit(ctx context.Context) error {
	return s.humanize(ctx, readPauseMin, readPauseMax)
}

// LingerVisit is the slow variant: same scroll pattern, longer pauses,
// as a person actually reading the listings rather than skimming.
func (s *Session) LingerVisit(ctx context.Context) error {
	return s.humanize(ctx, lingerPauseMin, lingerPauseMax)
}

func (s *Session) humanize(ctx context.Context, pauseMin, pauseMax time.Duration) error {
	scrolls := 2 + mathrand.Intn(3)
	for i := 0; i < scrolls; i++ {
		step := 400 + mathrand.Intn(500)
		if err := s.Run(ctx,
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy({top: %d, behavior: 'smooth'})", step), nil),
		); err != nil {
			return err
		}
		if err := s.moveMouseRandomly(ctx); err != nil {
			return err
		}
		if err := sleepCtx(ctx, randomDelay(pauseMin, pauseMax)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) moveMouseRandomly(ctx context.Context) error {
	x := float64(100 + mathrand.Intn(s.Fingerprint.ViewportWidth-200))
	y := float64(100 + mathrand.Intn(s.Fingerprint.ViewportHeight-200))
	return s.Run(ctx, chromedp.MouseEvent("mouseMoved", x, y))
}

// HumanType focuses the element and types the text one key at a time
// with randomized inter-key delays.
func (s *Session) HumanType(ctx context.Context, selector, text string) error {
	if err := s.Run(ctx, chromedp.Click(selector, chromedp.NodeVisible)); err != nil {
		return err
	}
	for _, r := range text {
		if err := s.Run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return err
		}
		if err := sleepCtx(ctx, randomDelay(keyDelayMin, keyDelayMax)); err != nil {
			return err
		}
	}
	return nil
}

// HumanSubmit types into a field and presses enter after a short
// hesitation.
func (s *Session) HumanSubmit(ctx context.Context, selector, text string) error {
	if err := s.HumanType(ctx, selector, text); err != nil {
		return err
	}
	if err := sleepCtx(ctx, randomDelay(200*time.Millisecond, 600*time.Millisecond)); err != nil {
		return err
	}
	return s.Run(ctx, chromedp.KeyEvent(kb.Enter))
}

// HumanClick moves toward the element before clicking it, with a small
// pre-click pause.
func (s *Session) HumanClick(ctx context.Context, selector string) error {
	if err := s.moveMouseRandomly(ctx); err != nil {
		return err
	}
	if err := sleepCtx(ctx, randomDelay(150*time.Millisecond, 450*time.Millisecond)); err != nil {
		return err
	}
	return s.Run(ctx, chromedp.Click(selector, chromedp.NodeVisible))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
