package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is one live Chrome instance with its fingerprint and
// optional proxy applied. Sessions are created through the Manager and
// must be returned with Release.
type Session struct {
	ID          string
	Fingerprint Fingerprint
	ProxyURL    string
	CreatedAt   time.Time

	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
	closeOnce   sync.Once
	logger      *zap.Logger
}

// sessionConfig is what newChromeSession needs from the manager.
type sessionConfig struct {
	headless bool
	timeout  time.Duration
	proxyURL string
}

// newChromeSession launches Chrome with the stealth options and a
// fresh fingerprint. The parent context bounds the session's lifetime.
func newChromeSession(parent context.Context, cfg sessionConfig, logger *zap.Logger) (*Session, error) {
	fp := RandomFingerprint()

	opts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(fp.ViewportWidth, fp.ViewportHeight),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", fp.Locale),
	)
	if cfg.headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.proxyURL))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)

	s := &Session{
		ID:          uuid.New().String(),
		Fingerprint: fp,
		ProxyURL:    cfg.proxyURL,
		CreatedAt:   time.Now(),
		ctx:         ctx,
		cancelCtx:   cancelCtx,
		cancelAlloc: cancelAlloc,
		logger:      logger,
	}

	initCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	init := []chromedp.Action{
		installStealth(fp),
		chromedp.EmulateViewport(int64(fp.ViewportWidth), int64(fp.ViewportHeight)),
	}
	if err := chromedp.Run(initCtx, init...); err != nil {
		s.close()
		return nil, fmt.Errorf("initializing browser session: %w", err)
	}

	logger.Debug("browser session started",
		zap.String("session", s.ID),
		zap.String("platform", fp.Platform),
		zap.String("proxy", cfg.proxyURL))
	return s, nil
}

// Navigate loads a URL and waits for the body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := mergeContext(s.ctx, ctx)
	defer cancel()
	resp, err := chromedp.RunResponse(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		return err
	}
	if resp != nil && resp.Status >= 400 {
		return &StatusError{Code: resp.Status}
	}
	return nil
}

// WaitNetworkIdle blocks until the page's resource fetches go quiet
// for two consecutive polls, or maxWait elapses. Pages that poll
// forever never settle, so the bound is the contract, not a failure.
func (s *Session) WaitNetworkIdle(ctx context.Context, maxWait time.Duration) error {
	runCtx, cancel := mergeContext(s.ctx, ctx)
	defer cancel()

	deadline := time.Now().Add(maxWait)
	last, stable := -1, 0
	for time.Now().Before(deadline) {
		var count int
		if err := chromedp.Run(runCtx,
			chromedp.Evaluate(`performance.getEntriesByType('resource').length`, &count)); err != nil {
			return err
		}
		if count == last {
			stable++
			if stable >= 2 {
				return nil
			}
		} else {
			last, stable = count, 0
		}
		if err := sleepCtx(runCtx, 250*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// StatusError reports a navigation that rendered but answered with an
// HTTP error status. The session stays usable and the document is
// loaded; challenge pages answer 403 or 503, so callers should inspect
// the content before discarding it.
type StatusError struct {
	Code int64
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("navigation returned status %d", e.Code)
}

// HTML returns the current document's outer HTML.
func (s *Session) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := mergeContext(s.ctx, ctx)
	defer cancel()
	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", err
	}
	return html, nil
}

// Screenshot captures the element matched by selector as PNG.
func (s *Session) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	runCtx, cancel := mergeContext(s.ctx, ctx)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.Screenshot(selector, &buf, chromedp.NodeVisible)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Run executes chromedp actions in this session.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := mergeContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Title returns the current page title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.Run(ctx, chromedp.Title(&title))
	return title, err
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancelCtx()
		s.cancelAlloc()
	})
}

// mergeContext bounds the session context with the caller's deadline
// and cancellation.
func mergeContext(session, caller context.Context) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if deadline, ok := caller.Deadline(); ok {
		ctx, cancel = context.WithDeadline(session, deadline)
	} else {
		ctx, cancel = context.WithCancel(session)
	}
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
