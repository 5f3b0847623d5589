// Package captcha abstracts third-party captcha solving services used
// when a browser session hits an image or checkbox challenge it cannot
// clear on its own.
package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrUnsolvable is returned when no configured solver can handle a
// challenge. Callers treat it as a hard failure for the current
// strategy attempt.
var ErrUnsolvable = errors.New("captcha could not be solved")

// ChallengeType classifies what the page presented.
type ChallengeType string

const (
	TypeImage     ChallengeType = "image"
	TypeCheckbox  ChallengeType = "checkbox"
	TypeRecaptcha ChallengeType = "recaptcha_v2"
	TypeTurnstile ChallengeType = "turnstile"
)

// Challenge carries everything a backend needs to attempt a solve.
type Challenge struct {
	Type     ChallengeType
	PageURL  string
	SiteKey  string
	ImagePNG []byte
}

// Solver attempts to produce a solution token or text for a challenge.
type Solver interface {
	Solve(ctx context.Context, ch *Challenge) (string, error)
}

// Chain tries each solver in order and returns the first solution.
type Chain struct {
	solvers []Solver
	logger  *zap.Logger
}

// NewChain builds a solver chain. A nil or empty chain reports every
// challenge as unsolvable.
func NewChain(logger *zap.Logger, solvers ...Solver) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{solvers: solvers, logger: logger}
}

func (c *Chain) Solve(ctx context.Context, ch *Challenge) (string, error) {
	for _, s := range c.solvers {
		token, err := s.Solve(ctx, ch)
		if err == nil {
			return token, nil
		}
		c.logger.Debug("captcha solver failed, trying next",
			zap.String("type", string(ch.Type)), zap.Error(err))
	}
	return "", ErrUnsolvable
}

// HTTPSolver submits challenges to an external solving service over a
// small JSON protocol: POST /solve with the challenge, poll the job
// until the service reports a solution or an error.
type HTTPSolver struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewHTTPSolver targets a solving service at baseURL.
func NewHTTPSolver(baseURL, apiKey string) *HTTPSolver {
	return &HTTPSolver{
		baseURL:      baseURL,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: 3 * time.Second,
		maxWait:      2 * time.Minute,
	}
}

type solveRequest struct {
	APIKey   string `json:"api_key"`
	Type     string `json:"type"`
	PageURL  string `json:"page_url,omitempty"`
	SiteKey  string `json:"site_key,omitempty"`
	ImageB64 string `json:"image_b64,omitempty"`
}

type solveResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Solution string `json:"solution"`
	Error    string `json:"error"`
}

func (s *HTTPSolver) Solve(ctx context.Context, ch *Challenge) (string, error) {
	req := solveRequest{
		APIKey:  s.apiKey,
		Type:    string(ch.Type),
		PageURL: ch.PageURL,
		SiteKey: ch.SiteKey,
	}
	if len(ch.ImagePNG) > 0 {
		req.ImageB64 = base64.StdEncoding.EncodeToString(ch.ImagePNG)
	}

	var submitted solveResponse
	if err := s.post(ctx, "/solve", req, &submitted); err != nil {
		return "", fmt.Errorf("submitting captcha: %w", err)
	}
	if submitted.Status == "solved" {
		return submitted.Solution, nil
	}
	if submitted.JobID == "" {
		return "", fmt.Errorf("solving service rejected challenge: %s", submitted.Error)
	}

	deadline := time.Now().Add(s.maxWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}

		var status solveResponse
		if err := s.get(ctx, "/result/"+submitted.JobID, &status); err != nil {
			continue
		}
		switch status.Status {
		case "solved":
			return status.Solution, nil
		case "failed":
			return "", fmt.Errorf("solving service failed: %s", status.Error)
		}
	}
	return "", fmt.Errorf("captcha solve timed out after %s", s.maxWait)
}

func (s *HTTPSolver) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *HTTPSolver) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	return s.do(req, out)
}

func (s *HTTPSolver) do(req *http.Request, out interface{}) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solving service returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
