package httpclient

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// JarRegistry owns the process-wide cookie jars, keyed by indexer ID. It
// is an explicit object rather than ambient global state so tests can
// construct isolated registries.
type JarRegistry struct {
	mu   sync.Mutex
	jars map[int64]http.CookieJar
}

// NewJarRegistry creates an empty registry.
func NewJarRegistry() *JarRegistry {
	return &JarRegistry{jars: make(map[int64]http.CookieJar)}
}

// Get returns the jar for an indexer, creating it on first use.
func (r *JarRegistry) Get(indexerID int64) http.CookieJar {
	r.mu.Lock()
	defer r.mu.Unlock()
	if jar, ok := r.jars[indexerID]; ok {
		return jar
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New never fails with a valid options struct
		panic(err)
	}
	r.jars[indexerID] = jar
	return jar
}

// Reset replaces an indexer's jar with a fresh one and returns it.
func (r *JarRegistry) Reset(indexerID int64) http.CookieJar {
	r.mu.Lock()
	delete(r.jars, indexerID)
	r.mu.Unlock()
	return r.Get(indexerID)
}

// Destroy removes an indexer's jar so deleted indexers do not leak state.
func (r *JarRegistry) Destroy(indexerID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jars, indexerID)
}

// ParseCookieString parses "name1=value1; name2=value2" into cookies.
func ParseCookieString(cookieStr string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, pair := range strings.Split(cookieStr, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:  strings.TrimSpace(parts[0]),
			Value: strings.TrimSpace(parts[1]),
		})
	}
	return cookies
}

// FormatCookieString serializes cookies back to "name=value; ..." form.
func FormatCookieString(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// CookiesForURL reads a jar's cookies for a URL string.
func CookiesForURL(jar http.CookieJar, rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return jar.Cookies(u)
}

// SetCookiesForURL injects cookies into a jar for a URL string.
func SetCookiesForURL(jar http.CookieJar, rawURL string, cookies []*http.Cookie) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	jar.SetCookies(u, cookies)
}
