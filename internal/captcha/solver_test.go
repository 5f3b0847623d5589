package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type stubSolver struct {
	token string
	err   error
	calls int
}

func (s *stubSolver) Solve(_ context.Context, _ *Challenge) (string, error) {
	s.calls++
	return s.token, s.err
}

func TestChain_FirstSuccessWins(t *testing.T) {
	failing := &stubSolver{err: errors.New("no workers")}
	passing := &stubSolver{token: "tok-123"}
	unreached := &stubSolver{token: "tok-456"}

	chain := NewChain(nil, failing, passing, unreached)
	token, err := chain.Solve(context.Background(), &Challenge{Type: TypeImage})
	if err != nil {
		t.Fatalf("Solve() failed: %v", err)
	}
	if token != "tok-123" {
		t.Errorf("token = %q, want tok-123", token)
	}
	if failing.calls != 1 || passing.calls != 1 || unreached.calls != 0 {
		t.Errorf("call counts = %d/%d/%d", failing.calls, passing.calls, unreached.calls)
	}
}

func TestChain_AllFail(t *testing.T) {
	chain := NewChain(nil, &stubSolver{err: errors.New("down")})
	if _, err := chain.Solve(context.Background(), &Challenge{Type: TypeCheckbox}); !errors.Is(err, ErrUnsolvable) {
		t.Errorf("err = %v, want ErrUnsolvable", err)
	}
}

func TestChain_Empty(t *testing.T) {
	if _, err := NewChain(nil).Solve(context.Background(), &Challenge{}); !errors.Is(err, ErrUnsolvable) {
		t.Errorf("err = %v, want ErrUnsolvable", err)
	}
}

func TestHTTPSolver_SubmitAndPoll(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/solve":
			var req solveRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad submit payload: %v", err)
			}
			if req.APIKey != "key-1" || req.Type != string(TypeRecaptcha) {
				t.Errorf("unexpected submit: %+v", req)
			}
			json.NewEncoder(w).Encode(solveResponse{JobID: "job-7", Status: "pending"})
		case r.Method == http.MethodGet && r.URL.Path == "/result/job-7":
			if atomic.AddInt32(&polls, 1) < 2 {
				json.NewEncoder(w).Encode(solveResponse{Status: "pending"})
				return
			}
			json.NewEncoder(w).Encode(solveResponse{Status: "solved", Solution: "g-token"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	solver := NewHTTPSolver(srv.URL, "key-1")
	solver.pollInterval = 10 * time.Millisecond

	token, err := solver.Solve(context.Background(), &Challenge{
		Type:    TypeRecaptcha,
		PageURL: "https://shop.example/s",
		SiteKey: "sitekey",
	})
	if err != nil {
		t.Fatalf("Solve() failed: %v", err)
	}
	if token != "g-token" {
		t.Errorf("token = %q, want g-token", token)
	}
}

func TestHTTPSolver_ServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(solveResponse{Status: "failed", Error: "unreadable image"})
	}))
	defer srv.Close()

	solver := NewHTTPSolver(srv.URL, "key-1")
	if _, err := solver.Solve(context.Background(), &Challenge{Type: TypeImage}); err == nil {
		t.Error("expected error from failed submit")
	}
}
