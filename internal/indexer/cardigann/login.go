package cardigann

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keonramses/cinephage/internal/indexer"
	"github.com/keonramses/cinephage/internal/indexer/httpclient"
)

// CookieStore persists session cookies across restarts so indexers do not
// re-login on every process start.
type CookieStore interface {
	// GetCookies returns the cached cookie string for an indexer, or ""
	// when none exist or the cached entry has expired.
	GetCookies(ctx context.Context, indexerID int64) (string, error)
	// SaveCookies stores a cookie string with the given expiration.
	SaveCookies(ctx context.Context, indexerID int64, cookies string, expiresAt time.Time) error
	// ClearCookies removes any cached cookies for an indexer.
	ClearCookies(ctx context.Context, indexerID int64) error
}

const (
	// A successful login is trusted without re-verification for this long.
	loginValidityWindow = 30 * time.Minute
	// Persisted session cookies expire after this much time in the store.
	cookieStoreTTL = 30 * 24 * time.Hour
)

// AuthManager drives the definition's login block: it authenticates lazily,
// caches the session in the client's cookie jar and a CookieStore, and
// detects session expiry mid-search.
type AuthManager struct {
	def         *Definition
	client      *httpclient.Client
	engine      *TemplateEngine
	settings    map[string]string
	store       CookieStore
	indexerID   int64
	indexerName string
	logger      zerolog.Logger

	mu            sync.Mutex
	authenticated bool
	lastLogin     time.Time
}

// NewAuthManager creates an auth manager. store may be nil, in which case
// sessions only live as long as the process.
func NewAuthManager(def *Definition, client *httpclient.Client, engine *TemplateEngine, settings map[string]string, store CookieStore, indexerID int64, logger zerolog.Logger) *AuthManager {
	return &AuthManager{
		def:         def,
		client:      client,
		engine:      engine,
		settings:    settings,
		store:       store,
		indexerID:   indexerID,
		indexerName: def.Name,
		logger:      logger.With().Str("component", "auth").Logger(),
	}
}

// EnsureLoggedIn authenticates if the definition requires it and the current
// session is missing or stale. It is idempotent: a session validated within
// the last 30 minutes is trusted without network traffic.
func (a *AuthManager) EnsureLoggedIn(ctx context.Context) error {
	if !a.def.HasLogin() {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.authenticated && time.Since(a.lastLogin) < loginValidityWindow {
		return nil
	}

	if a.tryCachedCookies(ctx) {
		return nil
	}

	if err := a.login(ctx); err != nil {
		return err
	}

	a.authenticated = true
	a.lastLogin = time.Now()
	a.saveCookies(ctx)
	a.logger.Debug().Msg("Authentication successful")
	return nil
}

// Invalidate drops the current session so the next EnsureLoggedIn performs a
// fresh login. Called when a search response carries the needs-login
// signature.
func (a *AuthManager) Invalidate(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.authenticated = false
	a.client.ClearCookies()
	if a.store != nil {
		if err := a.store.ClearCookies(ctx, a.indexerID); err != nil {
			a.logger.Debug().Err(err).Msg("Failed to clear cached cookies")
		}
	}
}

// tryCachedCookies restores a persisted session and verifies it with the
// definition's test block. Invalid cached cookies are cleared.
func (a *AuthManager) tryCachedCookies(ctx context.Context) bool {
	if a.store == nil {
		return false
	}

	cookies, err := a.store.GetCookies(ctx, a.indexerID)
	if err != nil {
		a.logger.Debug().Err(err).Msg("Failed to load cached cookies")
		return false
	}
	if cookies == "" {
		return false
	}

	a.client.SetCookieString(cookies)

	if err := a.verifySession(ctx); err != nil {
		a.logger.Debug().Err(err).Msg("Cached cookies are invalid, will re-authenticate")
		a.client.ClearCookies()
		_ = a.store.ClearCookies(ctx, a.indexerID)
		return false
	}

	a.authenticated = true
	a.lastLogin = time.Now()
	a.logger.Info().Msg("Using cached session cookies")
	return true
}

func (a *AuthManager) saveCookies(ctx context.Context) {
	if a.store == nil {
		return
	}
	cookies := a.client.CookieString()
	if cookies == "" {
		return
	}
	if err := a.store.SaveCookies(ctx, a.indexerID, cookies, time.Now().Add(cookieStoreTTL)); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to save session cookies")
	}
}

// login dispatches to the method named in the login block.
func (a *AuthManager) login(ctx context.Context) error {
	login := a.def.Login

	switch strings.ToLower(login.Method) {
	case "post", "":
		return a.loginPost(ctx, login)
	case "form":
		return a.loginForm(ctx, login)
	case "cookie":
		return a.loginCookie(login)
	case "get", "oneurl":
		return a.loginGet(ctx, login)
	case "apikey", "passkey":
		// Credentials ride along in search URLs; validate their presence.
		return a.validateInputs(login)
	default:
		return indexer.NewConfigError(a.indexerName, fmt.Sprintf("unsupported login method: %s", login.Method))
	}
}

// loginPost submits the login inputs directly without fetching the page
// first.
func (a *AuthManager) loginPost(ctx context.Context, login *LoginBlock) error {
	formData, err := a.evaluateInputs(login.Inputs)
	if err != nil {
		return err
	}

	loginURL := a.resolvePath(login.Path)
	a.logger.Debug().Str("url", loginURL).Msg("Performing POST login")

	resp, err := a.client.Do(ctx, &httpclient.Request{
		Method:  http.MethodPost,
		URL:     loginURL,
		Body:    formData,
		Headers: a.loginHeaders(login),
	})
	if err != nil {
		return a.classifyTransportError(err)
	}

	return a.checkLoginResponse(ctx, login, resp.Body)
}

// loginForm fetches the login page, extracts hidden fields and CSRF tokens
// via selectorinputs, then submits the form to its action URL.
func (a *AuthManager) loginForm(ctx context.Context, login *LoginBlock) error {
	pageURL := a.resolvePath(login.Path)
	a.logger.Debug().Str("url", pageURL).Msg("Fetching login page")

	resp, err := a.client.Get(ctx, pageURL)
	if err != nil {
		return a.classifyTransportError(err)
	}

	page, err := NewHTMLSelector(resp.Body)
	if err != nil {
		return indexer.NewParseError(a.indexerName, "failed to parse login page", err)
	}

	if login.Captcha != nil && login.Captcha.Selector != "" && page.Exists(login.Captcha.Selector) {
		return indexer.NewAuthError(indexer.AuthCauseCaptcha, a.indexerName,
			fmt.Errorf("login page requires a captcha"))
	}

	formSelector := login.Form
	if formSelector == "" {
		formSelector = "form"
	}
	form := page.Select(formSelector)
	if form.Length() == 0 {
		return indexer.NewParseError(a.indexerName, fmt.Sprintf("login form not found: %s", formSelector), nil)
	}

	action, _ := form.Attr("action")
	if action == "" {
		action = login.Path
	}
	actionURL := a.resolvePath(action)

	formData := url.Values{}
	for name, selDef := range login.SelectorInputs {
		val := ExtractText(page.Select(selDef.Selector), selDef.Attribute)
		if len(selDef.Filters) > 0 {
			val = ApplyFilters(val, selDef.Filters)
		}
		formData.Set(name, val)
	}
	inputs, err := a.evaluateInputs(login.Inputs)
	if err != nil {
		return err
	}
	for key := range inputs {
		formData.Set(key, inputs.Get(key))
	}

	a.logger.Debug().Str("url", actionURL).Msg("Submitting login form")

	headers := a.loginHeaders(login)
	headers["Referer"] = pageURL

	resp, err = a.client.Do(ctx, &httpclient.Request{
		Method:  http.MethodPost,
		URL:     actionURL,
		Body:    formData,
		Headers: headers,
	})
	if err != nil {
		return a.classifyTransportError(err)
	}

	return a.checkLoginResponse(ctx, login, resp.Body)
}

// loginCookie injects a user-supplied cookie string as the session.
func (a *AuthManager) loginCookie(login *LoginBlock) error {
	cookieStr := ""
	if tmpl, ok := login.Inputs["cookie"]; ok {
		cookieStr = a.engine.Expand(tmpl)
	}
	if cookieStr == "" {
		cookieStr = a.settings["cookie"]
	}
	if cookieStr == "" {
		return indexer.NewAuthError(indexer.AuthCauseCredentials, a.indexerName,
			fmt.Errorf("no cookie configured for cookie authentication"))
	}

	a.client.SetCookieString(cookieStr)
	a.logger.Debug().Msg("Injected configured session cookies")
	return a.verifyRequiredCookies(login)
}

// loginGet performs a single GET whose response sets the session cookies.
func (a *AuthManager) loginGet(ctx context.Context, login *LoginBlock) error {
	inputs, err := a.evaluateInputs(login.Inputs)
	if err != nil {
		return err
	}

	loginURL := a.resolvePath(login.Path)
	if len(inputs) > 0 {
		sep := "?"
		if strings.Contains(loginURL, "?") {
			sep = "&"
		}
		loginURL += sep + inputs.Encode()
	}

	a.logger.Debug().Str("url", loginURL).Msg("Performing GET login")

	resp, err := a.client.Do(ctx, &httpclient.Request{
		Method:  http.MethodGet,
		URL:     loginURL,
		Headers: a.loginHeaders(login),
	})
	if err != nil {
		return a.classifyTransportError(err)
	}

	return a.checkLoginResponse(ctx, login, resp.Body)
}

// validateInputs checks that every login input evaluates to a non-empty
// value.
func (a *AuthManager) validateInputs(login *LoginBlock) error {
	for key, tmpl := range login.Inputs {
		if a.engine.Expand(tmpl) == "" {
			return indexer.NewAuthError(indexer.AuthCauseCredentials, a.indexerName,
				fmt.Errorf("required setting %q is empty", key))
		}
	}
	return nil
}

// checkLoginResponse applies the login error selectors, verifies required
// cookies and runs the test block.
func (a *AuthManager) checkLoginResponse(ctx context.Context, login *LoginBlock, body []byte) error {
	if err := a.checkErrorSelectors(login.Error, body); err != nil {
		return err
	}
	if err := a.verifyRequiredCookies(login); err != nil {
		return err
	}
	return a.verifySession(ctx)
}

// checkErrorSelectors scans a response for the definition's login error
// markers and extracts the site's message when one matches.
func (a *AuthManager) checkErrorSelectors(selectors []ErrorSelector, body []byte) error {
	if len(selectors) == 0 {
		return nil
	}
	page, err := NewHTMLSelector(body)
	if err != nil {
		return nil
	}

	for _, errSel := range selectors {
		if !page.Exists(errSel.Selector) {
			continue
		}
		msg := "login failed"
		if errSel.Message != nil {
			if errSel.Message.Text != "" {
				msg = errSel.Message.Text
			} else if errSel.Message.Selector != "" {
				if extracted := page.FindText(errSel.Message.Selector); extracted != "" {
					msg = extracted
				}
			}
		} else if extracted := strings.TrimSpace(page.FindText(errSel.Selector)); extracted != "" {
			msg = extracted
		}

		cause := indexer.AuthCauseCredentials
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "captcha") {
			cause = indexer.AuthCauseCaptcha
		}
		return indexer.NewAuthError(cause, a.indexerName, fmt.Errorf("%s", msg))
	}
	return nil
}

// verifyRequiredCookies checks that every cookie the definition names is
// present in the jar after login.
func (a *AuthManager) verifyRequiredCookies(login *LoginBlock) error {
	if len(login.Cookies) == 0 {
		return nil
	}

	present := make(map[string]bool)
	for _, c := range a.client.Cookies() {
		present[c.Name] = true
	}
	for _, name := range login.Cookies {
		if !present[name] {
			return indexer.NewAuthError(indexer.AuthCauseCredentials, a.indexerName,
				fmt.Errorf("expected session cookie %q was not set", name))
		}
	}
	return nil
}

// verifySession runs the login test block against the current session.
func (a *AuthManager) verifySession(ctx context.Context) error {
	login := a.def.Login
	if login == nil || login.Test.Path == "" {
		return nil
	}

	testURL := a.resolvePath(login.Test.Path)
	resp, err := a.client.Get(ctx, testURL)
	if err != nil {
		return a.classifyTransportError(err)
	}

	if login.Test.Selector != "" {
		page, err := NewHTMLSelector(resp.Body)
		if err != nil {
			return indexer.NewParseError(a.indexerName, "failed to parse login test response", err)
		}
		if !page.Exists(login.Test.Selector) {
			return indexer.NewAuthError(indexer.AuthCauseCredentials, a.indexerName,
				fmt.Errorf("login test selector %q not found", login.Test.Selector))
		}
	}

	a.logger.Debug().Msg("Authentication test passed")
	return nil
}

// NeedsLogin reports whether a search response is actually a login page,
// using the definition's signature check plus the login redirect path.
func (a *AuthManager) NeedsLogin(body []byte, finalURL string) bool {
	if !a.def.HasLogin() {
		return false
	}

	check := a.def.Search.NeedsLogin
	if check == nil {
		return false
	}

	if check.Path != "" && strings.Contains(finalURL, check.Path) {
		return true
	}

	if check.Selector != "" {
		page, err := NewHTMLSelector(body)
		if err != nil {
			return false
		}
		sel := page.Select(check.Selector)
		if sel.Length() == 0 {
			return false
		}
		if check.Contains == "" {
			return true
		}
		return strings.Contains(sel.Text(), check.Contains)
	}

	return false
}

// evaluateInputs template-expands a login input map into form values.
func (a *AuthManager) evaluateInputs(inputs map[string]string) (url.Values, error) {
	values := url.Values{}
	for key, tmpl := range inputs {
		val, err := a.engine.Evaluate(tmpl, a.engine.Context())
		if err != nil {
			return nil, indexer.NewConfigError(a.indexerName,
				fmt.Sprintf("failed to evaluate login input %q: %v", key, err))
		}
		values.Set(key, val)
	}
	return values, nil
}

// loginHeaders evaluates the login block's extra headers.
func (a *AuthManager) loginHeaders(login *LoginBlock) map[string]string {
	headers := make(map[string]string)
	for key, val := range login.Headers {
		headers[key] = a.engine.Expand(string(val))
	}
	return headers
}

// resolvePath joins a definition path with the active base URL. Absolute
// URLs and template-expanded paths pass through.
func (a *AuthManager) resolvePath(path string) string {
	path = a.engine.Expand(path)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return a.client.BaseURL() + "/" + strings.TrimPrefix(path, "/")
}

// classifyTransportError maps client errors onto auth causes so callers can
// distinguish a down tracker from bad credentials.
func (a *AuthManager) classifyTransportError(err error) error {
	switch {
	case indexer.GetStatusCode(err) == http.StatusTooManyRequests:
		return indexer.NewAuthError(indexer.AuthCauseRateLimited, a.indexerName, err)
	case indexer.IsCloudflareError(err):
		return err
	case indexer.GetErrorCode(err) == indexer.ErrCodeNetwork:
		return indexer.NewAuthError(indexer.AuthCauseNetwork, a.indexerName, err)
	default:
		return indexer.NewAuthError(indexer.AuthCauseUnknown, a.indexerName, err)
	}
}
