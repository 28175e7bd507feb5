package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keonramses/cinephage/internal/indexer"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	interMirrorDelay = 500 * time.Millisecond
	cfChallengeDelay = 3 * time.Second
	maxResponseSize  = 32 << 20
)

// Options configures a Client. URLs lists the primary base URL followed by
// mirrors; Jars and RateLimiter are shared registries keyed by indexer ID.
type Options struct {
	IndexerID   int64
	IndexerName string
	URLs        []string
	UserAgent   string
	Timeout     time.Duration
	Encoding    string // definition-declared response encoding
	RetryPolicy *RetryPolicy
	RateLimiter *RateLimiter
	Jars        *JarRegistry
	Browser     BrowserFetcher
	Logger      zerolog.Logger
}

// Request is one logical fetch. URL is absolute; on failover the client
// rewrites it against each mirror. Binary skips charset decoding for
// payload downloads.
type Request struct {
	Method     string
	URL        string
	Headers    map[string]string
	Body       url.Values
	NoRedirect bool
	Binary     bool
}

// Response is a completed fetch with the body already decoded to UTF-8
// (unless the request was binary).
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	FinalURL   string
}

// Client issues requests for one indexer instance with rate limiting,
// retries, Cloudflare handling and multi-URL failover. Requests for one
// indexer are sequential by design; concurrent searches against the same
// instance require external serialization by the caller.
type Client struct {
	indexerID   int64
	indexerName string
	urls        []string
	userAgent   string
	encoding    string
	policy      RetryPolicy
	limiter     *RateLimiter
	jars        *JarRegistry
	browser     BrowserFetcher
	jar         http.CookieJar
	httpClient  *http.Client
	noRedirect  *http.Client
	logger      zerolog.Logger
}

// New creates a client for an indexer instance.
func New(opts Options) (*Client, error) {
	if len(opts.URLs) == 0 {
		return nil, fmt.Errorf("at least one base URL is required")
	}

	urls := make([]string, 0, len(opts.URLs))
	for _, u := range opts.URLs {
		u = strings.TrimSuffix(strings.TrimSpace(u), "/")
		if u != "" {
			urls = append(urls, u)
		}
	}

	policy := DefaultRetryPolicy()
	if opts.RetryPolicy != nil {
		policy = *opts.RetryPolicy
	}
	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = NewRateLimiter()
	}
	jars := opts.Jars
	if jars == nil {
		jars = NewJarRegistry()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	c := &Client{
		indexerID:   opts.IndexerID,
		indexerName: opts.IndexerName,
		urls:        urls,
		userAgent:   userAgent,
		encoding:    opts.Encoding,
		policy:      policy,
		limiter:     limiter,
		jars:        jars,
		browser:     opts.Browser,
		jar:         jars.Get(opts.IndexerID),
		logger:      opts.Logger.With().Str("component", "httpclient").Int64("indexerId", opts.IndexerID).Logger(),
	}
	c.buildHTTPClients(timeout)
	return c, nil
}

func (c *Client) buildHTTPClients(timeout time.Duration) {
	c.httpClient = &http.Client{
		Timeout: timeout,
		Jar:     c.jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
	c.noRedirect = &http.Client{
		Timeout: timeout,
		Jar:     c.jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// BaseURL returns the primary base URL.
func (c *Client) BaseURL() string {
	return c.urls[0]
}

// URLs returns every candidate base URL in failover order.
func (c *Client) URLs() []string {
	return c.urls
}

// Get issues a GET request for an absolute URL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: rawURL})
}

// Do executes a request with failover: the primary URL with full retries,
// then each mirror in order after a short pause. The first success wins;
// when every URL fails, the error aggregates all per-URL failures.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var failures []string
	var lastErr error

	for i, base := range c.urls {
		target := c.rewriteForBase(req.URL, base)

		resp, err := c.attemptWithRetry(ctx, req, target)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		failures = append(failures, fmt.Sprintf("%s: %v", base, err))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i < len(c.urls)-1 {
			c.logger.Debug().Str("failed", base).Str("next", c.urls[i+1]).Msg("Failing over to mirror")
			if err := sleepCtx(ctx, interMirrorDelay); err != nil {
				return nil, err
			}
		}
	}

	if len(c.urls) == 1 {
		return nil, lastErr
	}
	return nil, &indexer.IndexerError{
		Code:        indexer.ErrCodeAllURLsFailed,
		Message:     "all URLs failed: " + strings.Join(failures, "; "),
		IndexerID:   c.indexerID,
		IndexerName: c.indexerName,
		Cause:       lastErr,
	}
}

// attemptWithRetry runs the retry loop for one base URL. Cloudflare
// transient statuses get a single retry; challenge responses get one
// 3-second retry before surfacing a typed error or delegating to the
// browser fetcher.
func (c *Client) attemptWithRetry(ctx context.Context, req *Request, target string) (*Response, error) {
	maxAttempts := c.policy.MaxRetries + 1
	cfRetried := false
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx, c.indexerID, hostOf(target)); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, req, target)
		if err != nil {
			lastErr = indexer.NewNetworkError(c.indexerName, err)
			if IsTransientNetError(err) && attempt < maxAttempts {
				if err := sleepCtx(ctx, c.policy.Delay(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		if IsCloudflareChallenge(resp.StatusCode, resp.Headers, resp.Body) {
			c.logger.Debug().Int("status", resp.StatusCode).Str("url", target).Msg("Cloudflare challenge detected")
			if c.browser != nil && c.browser.IsAvailable() {
				return c.fetchViaBrowser(ctx, req, target, resp.StatusCode)
			}
			lastErr = indexer.NewCloudflareError(resp.StatusCode, false)
			// JSON endpoints sometimes clear the challenge on retry
			if !cfRetried {
				cfRetried = true
				if err := sleepCtx(ctx, cfChallengeDelay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode >= 400 {
			lastErr = indexer.NewHTTPError(resp.StatusCode, c.indexerName)
			budget := maxAttempts
			if IsCloudflareTransientStatus(resp.StatusCode) {
				budget = 2
			}
			if IsRetryableStatusCode(resp.StatusCode) && attempt < budget {
				delay := c.policy.Delay(attempt)
				if ra, ok := c.policy.RetryAfterDelay(resp.Headers.Get("Retry-After")); ok {
					delay = ra
				}
				c.logger.Debug().Int("status", resp.StatusCode).Dur("delay", delay).Int("attempt", attempt).Msg("Retrying request")
				if err := sleepCtx(ctx, delay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		return resp, nil
	}

	return nil, lastErr
}

// attempt performs a single HTTP round trip and decodes the body.
func (c *Client) attempt(ctx context.Context, req *Request, target string) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = strings.NewReader(req.Body.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := c.httpClient
	if req.NoRedirect {
		client = c.noRedirect
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	if !req.Binary {
		body = DecodeBody(body, httpResp.Header.Get("Content-Type"), c.encoding)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
		FinalURL:   httpResp.Request.URL.String(),
	}, nil
}

// fetchViaBrowser delegates the whole fetch to the injected solver and
// returns its result verbatim.
func (c *Client) fetchViaBrowser(ctx context.Context, req *Request, target string, challengeStatus int) (*Response, error) {
	browserReq := BrowserRequest{
		URL:     target,
		Method:  req.Method,
		Timeout: c.httpClient.Timeout,
	}
	if req.Body != nil {
		browserReq.Body = req.Body.Encode()
	}

	result, err := c.browser.Fetch(ctx, browserReq)
	if err != nil || result == nil || !result.Success {
		c.logger.Warn().Err(err).Str("url", target).Msg("Browser-based Cloudflare bypass failed")
		return nil, indexer.NewCloudflareError(challengeStatus, true)
	}

	c.logger.Debug().Str("url", target).Dur("elapsed", result.Elapsed).Msg("Cloudflare bypass succeeded")
	finalURL := result.URL
	if finalURL == "" {
		finalURL = target
	}

	// The solver bypasses our transport, so its session cookies
	// (cf_clearance) never pass through http.Client.Jar. Persist them
	// here or every subsequent request re-triggers the challenge.
	if cookies := (&http.Response{Header: result.Headers}).Cookies(); len(cookies) > 0 {
		SetCookiesForURL(c.jar, finalURL, cookies)
		if finalURL != target {
			SetCookiesForURL(c.jar, target, cookies)
		}
	}

	return &Response{
		StatusCode: result.Status,
		Body:       result.Body,
		Headers:    result.Headers,
		FinalURL:   finalURL,
	}, nil
}

// rewriteForBase swaps a request URL onto a different base URL. URLs built
// against a known base keep their path suffix; anything else gets its
// scheme and host replaced.
func (c *Client) rewriteForBase(rawURL, base string) string {
	for _, known := range c.urls {
		if strings.HasPrefix(rawURL, known+"/") || rawURL == known {
			return base + strings.TrimPrefix(rawURL, known)
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	b, err := url.Parse(base)
	if err != nil {
		return rawURL
	}
	u.Scheme = b.Scheme
	u.Host = b.Host
	return u.String()
}

// Cookies returns the jar's cookies for the primary URL.
func (c *Client) Cookies() []*http.Cookie {
	return CookiesForURL(c.jar, c.urls[0])
}

// CookieString serializes the current session cookies.
func (c *Client) CookieString() string {
	return FormatCookieString(c.Cookies())
}

// SetCookieString injects "name=value; ..." cookies for every base URL.
func (c *Client) SetCookieString(cookieStr string) {
	cookies := ParseCookieString(cookieStr)
	for _, base := range c.urls {
		SetCookiesForURL(c.jar, base, cookies)
	}
}

// ClearCookies replaces the indexer's jar with an empty one.
func (c *Client) ClearCookies() {
	c.jar = c.jars.Reset(c.indexerID)
	c.httpClient.Jar = c.jar
	c.noRedirect.Jar = c.jar
}

// Destroy releases the client's keyed state from the shared registries.
func (c *Client) Destroy() {
	c.jars.Destroy(c.indexerID)
	c.limiter.Remove(c.indexerID)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
