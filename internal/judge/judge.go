// Package judge talks to the external code-execution service. The engine
// never runs code itself; it only consumes the pre-judged pass/fail counts
// returned here.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/skillversus/duel-backend/internal/engine"
)

var ErrUnavailable = errors.New("judge unavailable")

type Judge interface {
	Evaluate(ctx context.Context, problem engine.Problem, code, language string) (engine.CodeResult, error)
}

type request struct {
	ProblemID string `json:"problem_id"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

type response struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

// HTTPClient submits code to a judge endpoint and waits for the verdict.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (j *HTTPClient) Evaluate(ctx context.Context, problem engine.Problem, code, language string) (engine.CodeResult, error) {
	if j.baseURL == "" {
		return engine.CodeResult{}, ErrUnavailable
	}
	body, err := json.Marshal(request{ProblemID: problem.ID, Code: code, Language: language})
	if err != nil {
		return engine.CodeResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/judge", bytes.NewReader(body))
	if err != nil {
		return engine.CodeResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return engine.CodeResult{}, fmt.Errorf("judge request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return engine.CodeResult{}, fmt.Errorf("judge returned %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return engine.CodeResult{}, fmt.Errorf("judge response: %w", err)
	}
	return engine.CodeResult{Passed: out.Passed, Total: out.Total}, nil
}
