package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pricelens/harvest/internal/browser"
	"github.com/pricelens/harvest/internal/captcha"
	"github.com/pricelens/harvest/internal/proxy"
	"github.com/pricelens/harvest/pkg/types"
)

// browserSession is the slice of browser.Session the strategies use,
// split out so tests can run without Chrome.
type browserSession interface {
	Navigate(ctx context.Context, url string) error
	WaitNetworkIdle(ctx context.Context, maxWait time.Duration) error
	HTML(ctx context.Context) (string, error)
	HumanizeVisit(ctx context.Context) error
	LingerVisit(ctx context.Context) error
	SolveChallenge(ctx context.Context, kind browser.ChallengeKind, solver captcha.Solver) error
}

// sessionLeaser abstracts browser.Manager for the same reason.
type sessionLeaser interface {
	Lease(ctx context.Context, proxyURL string) (*browser.Session, error)
	Release(s *browser.Session)
}

// BrowserStrategy drives a stealth Chrome session: navigate, emulate a
// human visit, resolve challenges, pull the rendered HTML. The full
// variant differs only in pacing and timeout.
type BrowserStrategy struct {
	name     types.StrategyName
	timeout  time.Duration
	thorough bool

	sessions sessionLeaser
	pool     *proxy.Pool
	solver   captcha.Solver
	logger   *zap.Logger

	// visit is swapped out by tests; defaults to driving a real
	// session leased from the manager.
	visit func(ctx context.Context, task *Task, proxyURL string) (string, bool, error)
}

// NewStealthBrowserStrategy builds the tier-3 strategy.
func NewStealthBrowserStrategy(sessions *browser.Manager, pool *proxy.Pool, solver captcha.Solver, logger *zap.Logger) *BrowserStrategy {
	return newBrowserStrategy(types.StrategyStealthBrowser, defaultStrategyTimeout, false, sessions, pool, solver, logger)
}

// NewFullBrowserStrategy builds the tier-4 strategy with extended
// reading pauses and a longer timeout.
func NewFullBrowserStrategy(sessions *browser.Manager, pool *proxy.Pool, solver captcha.Solver, logger *zap.Logger) *BrowserStrategy {
	return newBrowserStrategy(types.StrategyFullBrowser, fullBrowserTimeout, true, sessions, pool, solver, logger)
}

func newBrowserStrategy(name types.StrategyName, timeout time.Duration, thorough bool,
	sessions *browser.Manager, pool *proxy.Pool, solver captcha.Solver, logger *zap.Logger) *BrowserStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &BrowserStrategy{
		name:     name,
		timeout:  timeout,
		thorough: thorough,
		sessions: sessions,
		pool:     pool,
		solver:   solver,
		logger:   logger,
	}
	s.visit = s.chromeVisit
	return s
}

func (s *BrowserStrategy) Name() types.StrategyName { return s.name }

func (s *BrowserStrategy) Timeout() time.Duration { return s.timeout }

func (s *BrowserStrategy) Execute(ctx context.Context, task *Task) (*fetchResult, error) {
	var proxyURL string
	entry, err := s.pool.Acquire()
	if err != nil && !errors.Is(err, proxy.ErrNoProxies) {
		return nil, err
	}
	if entry != nil {
		proxyURL = entry.URL
	}

	start := time.Now()
	html, solved, err := s.visit(ctx, task, proxyURL)
	if entry != nil {
		s.pool.ReportOutcome(entry.URL, err == nil, time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	if marker, found := antiBotIndicator(html, task.Retailer.AntiBotMeasures); found && !solved {
		return nil, fmt.Errorf("%w: indicator %q after render", ErrAntiBot, marker)
	}
	return &fetchResult{HTML: html, ProxyURL: proxyURL, CaptchaSolved: solved}, nil
}

// chromeVisit leases a session, performs the visit, and guarantees the
// session is released on every exit path.
func (s *BrowserStrategy) chromeVisit(ctx context.Context, task *Task, proxyURL string) (html string, solved bool, err error) {
	session, err := s.sessions.Lease(ctx, proxyURL)
	if err != nil {
		return "", false, fmt.Errorf("leasing browser session: %w", err)
	}
	defer s.sessions.Release(session)

	return s.runVisit(ctx, session, task)
}

func (s *BrowserStrategy) runVisit(ctx context.Context, session browserSession, task *Task) (string, bool, error) {
	var statusErr *browser.StatusError
	if err := session.Navigate(ctx, task.URL); err != nil {
		// An error status still renders a document, and challenge pages
		// answer 403 or 503. Inspect the content before giving up.
		if !errors.As(err, &statusErr) {
			return "", false, fmt.Errorf("navigating to %s: %w", task.URL, err)
		}
	}

	idleWait := stealthNetworkIdleWait
	if s.thorough {
		idleWait = fullNetworkIdleWait
	}
	if err := session.WaitNetworkIdle(ctx, idleWait); err != nil {
		return "", false, err
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return "", false, err
	}

	solved := false
	if kind := browser.DetectChallenge(html); kind != browser.ChallengeNone {
		s.logger.Debug("challenge detected",
			zap.String("kind", string(kind)), zap.String("url", task.URL))
		if err := session.SolveChallenge(ctx, kind, s.solver); err != nil {
			return "", false, fmt.Errorf("%w: %s challenge: %v", ErrChallengeUnsolved, kind, err)
		}
		solved = true
		if html, err = session.HTML(ctx); err != nil {
			return "", false, err
		}
	} else if statusErr != nil {
		switch statusErr.Code {
		case 403, 429, 503:
			return "", false, fmt.Errorf("%w: %v", ErrAntiBot, statusErr)
		default:
			return "", false, fmt.Errorf("navigating to %s: %w", task.URL, statusErr)
		}
	}

	if err := session.HumanizeVisit(ctx); err != nil {
		return "", solved, err
	}
	if s.thorough {
		// A slow second pass with longer pauses picks up lazy-loaded
		// listings that the skim missed.
		if err := session.LingerVisit(ctx); err != nil {
			return "", solved, err
		}
	}

	html, err = session.HTML(ctx)
	if err != nil {
		return "", solved, err
	}
	return html, solved, nil
}
