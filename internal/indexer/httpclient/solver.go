package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultSolverTimeout = 60 * time.Second

// FlareSolverrClient delegates Cloudflare-challenged fetches to an external
// FlareSolverr instance over its v1 JSON API. It implements BrowserFetcher.
type FlareSolverrClient struct {
	endpoint string
	http     *http.Client
	logger   zerolog.Logger
}

// NewFlareSolverrClient creates a client for a FlareSolverr base URL
// (for example "http://localhost:8191"). An empty URL yields a client
// that reports itself unavailable.
func NewFlareSolverrClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *FlareSolverrClient {
	if timeout <= 0 {
		timeout = defaultSolverTimeout
	}
	endpoint := ""
	if baseURL != "" {
		endpoint = strings.TrimRight(baseURL, "/") + "/v1"
	}
	return &FlareSolverrClient{
		endpoint: endpoint,
		// Solving a challenge can take most of a minute; leave headroom
		// beyond the solver's own maxTimeout.
		http:   &http.Client{Timeout: timeout + 15*time.Second},
		logger: logger.With().Str("component", "flaresolverr").Logger(),
	}
}

// IsAvailable reports whether a solver endpoint is configured.
func (c *FlareSolverrClient) IsAvailable() bool {
	return c != nil && c.endpoint != ""
}

type solverRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	PostData   string `json:"postData,omitempty"`
	MaxTimeout int    `json:"maxTimeout"`
}

type solverResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL      string            `json:"url"`
		Status   int               `json:"status"`
		Response string            `json:"response"`
		Headers  map[string]string `json:"headers"`
		Cookies  []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"cookies"`
	} `json:"solution"`
}

// Fetch runs a request through the solver and returns the rendered page.
func (c *FlareSolverrClient) Fetch(ctx context.Context, req BrowserRequest) (*BrowserResult, error) {
	if !c.IsAvailable() {
		return nil, fmt.Errorf("flaresolverr is not configured")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultSolverTimeout
	}

	cmd := "request.get"
	if strings.EqualFold(req.Method, http.MethodPost) {
		cmd = "request.post"
	}
	payload, err := json.Marshal(solverRequest{
		Cmd:        cmd,
		URL:        req.URL,
		PostData:   req.Body,
		MaxTimeout: int(timeout.Milliseconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode solver request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build solver request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("solver request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded solverResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode solver response: %w", err)
	}

	elapsed := time.Since(start)
	result := &BrowserResult{
		Success: decoded.Status == "ok",
		Status:  decoded.Solution.Status,
		Body:    []byte(decoded.Solution.Response),
		URL:     decoded.Solution.URL,
		Error:   decoded.Message,
		Elapsed: elapsed,
	}

	headers := make(http.Header, len(decoded.Solution.Headers)+len(decoded.Solution.Cookies))
	for k, v := range decoded.Solution.Headers {
		headers.Set(k, v)
	}
	// Session cookies come back in a structured list; surface them as
	// Set-Cookie headers so the caller's jar persistence applies.
	for _, ck := range decoded.Solution.Cookies {
		headers.Add("Set-Cookie", ck.Name+"="+ck.Value)
	}
	result.Headers = headers

	c.logger.Debug().
		Str("url", req.URL).
		Bool("success", result.Success).
		Int("status", result.Status).
		Dur("elapsed", elapsed).
		Msg("Solver fetch completed")

	return result, nil
}
