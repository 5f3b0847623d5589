package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pricelens/harvest/internal/browser"
	"github.com/pricelens/harvest/internal/captcha"
	"github.com/pricelens/harvest/internal/proxy"
	"github.com/pricelens/harvest/internal/registry"
	"github.com/pricelens/harvest/pkg/types"
)

func taskFor(t *testing.T, rawURL string) *Task {
	t.Helper()
	rc := &registry.RetailerConfig{
		Key:      "shop",
		Domain:   "shop.example",
		Category: types.CategoryGeneral,
		Priority: types.PriorityMedium,
		Selectors: map[string][]string{
			"title": {"h2.name"},
			"price": {"span.price"},
		},
		Currency: "USD",
		Status:   types.StatusActive,
	}
	return &Task{Retailer: rc, URL: rawURL}
}

func TestDirectAPI_FindsJSONEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products/search" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"products":[{"name":"USB Hub","price":17.5,"url":"https://shop.example/p/1"}]}`))
	}))
	defer srv.Close()

	res, err := NewDirectAPIStrategy().Execute(context.Background(), taskFor(t, srv.URL+"/s?q=usb"))
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(res.Products) != 1 {
		t.Fatalf("got %d products", len(res.Products))
	}
	p := res.Products[0]
	if p.Title != "USB Hub" || p.Price != 17.5 || p.SourceURL != "https://shop.example/p/1" {
		t.Errorf("product = %+v", p)
	}
}

func TestDirectAPI_NoEndpointIsNotSupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	if _, err := NewDirectAPIStrategy().Execute(context.Background(), taskFor(t, srv.URL+"/s?q=usb")); !errors.Is(err, ErrNotSupported) {
		t.Errorf("err = %v, want ErrNotSupported", err)
	}
}

func TestDirectAPI_HTMLResponseIsNotSupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>search page</html>"))
	}))
	defer srv.Close()

	if _, err := NewDirectAPIStrategy().Execute(context.Background(), taskFor(t, srv.URL+"/s?q=usb")); !errors.Is(err, ErrNotSupported) {
		t.Errorf("err = %v, want ErrNotSupported", err)
	}
}

func TestSimpleHTTP_FetchesAndReportsProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" || r.Header.Get("Accept-Language") == "" {
			t.Error("browser headers missing")
		}
		w.Write([]byte(productHTML))
	}))
	defer srv.Close()

	pool := proxy.NewPool(proxy.Options{}, proxy.NewMemoryStore(), nil)
	strat := NewSimpleHTTPStrategy(pool, zap.NewNop())

	// Empty pool: the strategy goes direct rather than failing.
	res, err := strat.Execute(context.Background(), taskFor(t, srv.URL))
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if res.HTML == "" || res.ProxyURL != "" {
		t.Errorf("unexpected result: proxy=%q html empty=%v", res.ProxyURL, res.HTML == "")
	}
}

func TestSimpleHTTP_AntiBotStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<html>Robot Check: please verify</html>"))
	}))
	defer srv.Close()

	pool := proxy.NewPool(proxy.Options{}, proxy.NewMemoryStore(), nil)
	strat := NewSimpleHTTPStrategy(pool, zap.NewNop())
	if _, err := strat.Execute(context.Background(), taskFor(t, srv.URL)); !errors.Is(err, ErrAntiBot) {
		t.Errorf("err = %v, want ErrAntiBot", err)
	}
}

func TestSimpleHTTP_AntiBotBodyOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><form>captcha required</form></html>"))
	}))
	defer srv.Close()

	pool := proxy.NewPool(proxy.Options{}, proxy.NewMemoryStore(), nil)
	strat := NewSimpleHTTPStrategy(pool, zap.NewNop())
	if _, err := strat.Execute(context.Background(), taskFor(t, srv.URL)); !errors.Is(err, ErrAntiBot) {
		t.Errorf("err = %v, want ErrAntiBot", err)
	}
}

// fakeBrowserSession scripts the page states a visit walks through.
type fakeBrowserSession struct {
	pages     []string
	pageIdx   int
	solveErr  error
	navErr    error
	solved    bool
	humanized int
	lingered  int
	idleWait  time.Duration
}

func (f *fakeBrowserSession) Navigate(_ context.Context, _ string) error { return f.navErr }

func (f *fakeBrowserSession) WaitNetworkIdle(_ context.Context, maxWait time.Duration) error {
	f.idleWait = maxWait
	return nil
}

func (f *fakeBrowserSession) HTML(_ context.Context) (string, error) {
	if f.pageIdx < len(f.pages)-1 {
		html := f.pages[f.pageIdx]
		f.pageIdx++
		return html, nil
	}
	return f.pages[len(f.pages)-1], nil
}

func (f *fakeBrowserSession) HumanizeVisit(_ context.Context) error {
	f.humanized++
	return nil
}

func (f *fakeBrowserSession) LingerVisit(_ context.Context) error {
	f.lingered++
	return nil
}

func (f *fakeBrowserSession) SolveChallenge(_ context.Context, _ browser.ChallengeKind, _ captcha.Solver) error {
	if f.solveErr != nil {
		return f.solveErr
	}
	f.solved = true
	return nil
}

func TestBrowserStrategy_CleanVisit(t *testing.T) {
	strat := newBrowserStrategy(types.StrategyStealthBrowser, time.Second, false, nil, nil, nil, zap.NewNop())
	session := &fakeBrowserSession{pages: []string{productHTML}}

	html, solved, err := strat.runVisit(context.Background(), session, taskFor(t, "https://shop.example/p/1"))
	if err != nil {
		t.Fatalf("runVisit() failed: %v", err)
	}
	if solved {
		t.Error("no challenge should be reported solved")
	}
	if html != productHTML {
		t.Errorf("html = %q", html)
	}
	if session.humanized != 1 || session.lingered != 0 {
		t.Errorf("passes = %d skim / %d linger, want 1/0", session.humanized, session.lingered)
	}
}

func TestBrowserStrategy_SolvesChallengeThenExtracts(t *testing.T) {
	challengePage := `<html><title>Just a moment...</title>checking your browser</html>`
	strat := newBrowserStrategy(types.StrategyFullBrowser, time.Second, true, nil, nil, nil, zap.NewNop())
	session := &fakeBrowserSession{pages: []string{challengePage, productHTML}}

	html, solved, err := strat.runVisit(context.Background(), session, taskFor(t, "https://shop.example/p/1"))
	if err != nil {
		t.Fatalf("runVisit() failed: %v", err)
	}
	if !solved {
		t.Error("challenge solve not reported")
	}
	if html != productHTML {
		t.Errorf("post-challenge html = %q", html)
	}
	// The thorough variant skims once and then lingers.
	if session.humanized != 1 || session.lingered != 1 {
		t.Errorf("passes = %d skim / %d linger, want 1/1", session.humanized, session.lingered)
	}
}

func TestBrowserStrategy_UnsolvedChallenge(t *testing.T) {
	challengePage := `<div class="g-recaptcha"></div>`
	strat := newBrowserStrategy(types.StrategyStealthBrowser, time.Second, false, nil, nil, nil, zap.NewNop())
	session := &fakeBrowserSession{
		pages:    []string{challengePage},
		solveErr: captcha.ErrUnsolvable,
	}

	_, _, err := strat.runVisit(context.Background(), session, taskFor(t, "https://shop.example/p/1"))
	if !errors.Is(err, ErrChallengeUnsolved) {
		t.Errorf("err = %v, want ErrChallengeUnsolved", err)
	}
}

func TestBrowserStrategy_ErrorStatusWithChallengeStillSolves(t *testing.T) {
	challengePage := `<html><title>Just a moment...</title>checking your browser</html>`
	strat := newBrowserStrategy(types.StrategyStealthBrowser, time.Second, false, nil, nil, nil, zap.NewNop())
	session := &fakeBrowserSession{
		pages:  []string{challengePage, productHTML},
		navErr: &browser.StatusError{Code: 503},
	}

	html, solved, err := strat.runVisit(context.Background(), session, taskFor(t, "https://shop.example/p/1"))
	if err != nil {
		t.Fatalf("runVisit() failed: %v", err)
	}
	if !solved {
		t.Error("challenge solve not reported")
	}
	if html != productHTML {
		t.Errorf("post-challenge html = %q", html)
	}
}

func TestBrowserStrategy_ErrorStatusWithoutChallenge(t *testing.T) {
	strat := newBrowserStrategy(types.StrategyStealthBrowser, time.Second, false, nil, nil, nil, zap.NewNop())

	blocked := &fakeBrowserSession{
		pages:  []string{"<html><body>Forbidden</body></html>"},
		navErr: &browser.StatusError{Code: 403},
	}
	if _, _, err := strat.runVisit(context.Background(), blocked, taskFor(t, "https://shop.example/p/1")); !errors.Is(err, ErrAntiBot) {
		t.Errorf("403 err = %v, want ErrAntiBot", err)
	}

	missing := &fakeBrowserSession{
		pages:  []string{"<html><body>Not found</body></html>"},
		navErr: &browser.StatusError{Code: 404},
	}
	if _, _, err := strat.runVisit(context.Background(), missing, taskFor(t, "https://shop.example/p/1")); err == nil || errors.Is(err, ErrAntiBot) {
		t.Errorf("404 err = %v, want plain navigation error", err)
	}
}

func TestBrowserStrategy_NetworkIdleBounds(t *testing.T) {
	stealth := newBrowserStrategy(types.StrategyStealthBrowser, time.Second, false, nil, nil, nil, zap.NewNop())
	session := &fakeBrowserSession{pages: []string{productHTML}}
	if _, _, err := stealth.runVisit(context.Background(), session, taskFor(t, "https://shop.example/p/1")); err != nil {
		t.Fatalf("runVisit() failed: %v", err)
	}
	if session.idleWait != stealthNetworkIdleWait {
		t.Errorf("stealth idle bound = %v, want %v", session.idleWait, stealthNetworkIdleWait)
	}

	full := newBrowserStrategy(types.StrategyFullBrowser, time.Second, true, nil, nil, nil, zap.NewNop())
	session = &fakeBrowserSession{pages: []string{productHTML}}
	if _, _, err := full.runVisit(context.Background(), session, taskFor(t, "https://shop.example/p/1")); err != nil {
		t.Fatalf("runVisit() failed: %v", err)
	}
	if session.idleWait != fullNetworkIdleWait {
		t.Errorf("full-browser idle bound = %v, want %v", session.idleWait, fullNetworkIdleWait)
	}
}

func TestDirectAPI_ProbesHonorRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	strat := NewDirectAPIStrategy()
	var waits []time.Duration
	strat.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	task := taskFor(t, srv.URL+"/s?q=usb")
	task.Retailer.RateLimit = 750 * time.Millisecond
	if _, err := strat.Execute(context.Background(), task); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}

	// Three probe paths, so two inter-probe waits at the domain's rate.
	if len(waits) != len(apiProbePaths)-1 {
		t.Fatalf("waits = %d, want %d", len(waits), len(apiProbePaths)-1)
	}
	for _, d := range waits {
		if d != 750*time.Millisecond {
			t.Errorf("wait = %v, want 750ms", d)
		}
	}
}
