package httpclient

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"
)

// challengeMarkers are body fragments that identify a Cloudflare challenge
// interstitial. Matching is case-insensitive.
var challengeMarkers = [][]byte{
	[]byte("just a moment"),
	[]byte("checking your browser"),
	[]byte("cf-browser-verification"),
	[]byte("cf_chl_opt"),
	[]byte("challenge-platform"),
	[]byte("cf-turnstile"),
	[]byte("attention required! | cloudflare"),
	[]byte("ddos protection by cloudflare"),
	[]byte("enable javascript and cookies to continue"),
}

// IsCloudflareChallenge classifies a response as a Cloudflare anti-bot
// challenge. Plain 403/503 responses with unrelated bodies are not
// challenges; the body must carry a known marker.
func IsCloudflareChallenge(status int, headers http.Header, body []byte) bool {
	if status != http.StatusForbidden && status != http.StatusServiceUnavailable {
		return false
	}

	lower := bytes.ToLower(body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}

	// Challenge responses without a recognizable body still identify
	// themselves through the mitigation header.
	if strings.EqualFold(headers.Get("cf-mitigated"), "challenge") {
		return true
	}

	return false
}

// BrowserRequest describes a fetch delegated to a browser-capable solver.
type BrowserRequest struct {
	URL     string
	Method  string
	Body    string
	Timeout time.Duration
}

// BrowserResult is the solver's verbatim outcome.
type BrowserResult struct {
	Success bool
	Status  int
	Body    []byte
	Headers http.Header
	URL     string
	Error   string
	Elapsed time.Duration
}

// BrowserFetcher is an injected capability that can pass Cloudflare
// challenges a plain HTTP client cannot (TLS fingerprinting defeats
// net/http). The runtime never implements browser automation itself.
type BrowserFetcher interface {
	IsAvailable() bool
	Fetch(ctx context.Context, req BrowserRequest) (*BrowserResult, error)
}
