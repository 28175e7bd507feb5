package indexer

import (
	"errors"
	"fmt"
)

// Error codes for categorizing indexer errors.
const (
	ErrCodeAuthentication   = "AUTH_ERROR"
	ErrCodeSearch           = "SEARCH_ERROR"
	ErrCodeDownload         = "DOWNLOAD_ERROR"
	ErrCodeConfiguration    = "CONFIG_ERROR"
	ErrCodeRateLimit        = "RATE_LIMIT_ERROR"
	ErrCodeNetwork          = "NETWORK_ERROR"
	ErrCodeParse            = "PARSE_ERROR"
	ErrCodeHTTP             = "HTTP_ERROR"
	ErrCodeCloudflare       = "CLOUDFLARE_PROTECTED"
	ErrCodeCloudflareBypass = "CLOUDFLARE_BYPASS_FAILED"
	ErrCodeAllURLsFailed    = "ALL_URLS_FAILED"
)

// AuthCause distinguishes why a login attempt failed so callers can decide
// whether to back off, alert, or surface a credentials prompt.
type AuthCause string

const (
	AuthCauseCredentials AuthCause = "invalid-credentials"
	AuthCauseCaptcha     AuthCause = "captcha-required"
	AuthCauseRateLimited AuthCause = "rate-limited"
	AuthCauseNetwork     AuthCause = "network"
	AuthCauseUnknown     AuthCause = "unknown"
)

// IndexerError is a categorized error from an indexer operation.
type IndexerError struct {
	Code        string
	Message     string
	IndexerID   int64
	IndexerName string
	Retryable   bool
	AuthCause   AuthCause // set for ErrCodeAuthentication only
	StatusCode  int       // set for ErrCodeHTTP and Cloudflare codes
	Cause       error
}

// Error implements the error interface.
func (e *IndexerError) Error() string {
	if e.IndexerName != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.IndexerName, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *IndexerError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is(err, ErrAuthentication) works.
func (e *IndexerError) Is(target error) bool {
	var t *IndexerError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel instances for errors.Is comparisons.
var (
	ErrAuthentication   = &IndexerError{Code: ErrCodeAuthentication, Message: "authentication failed"}
	ErrSearch           = &IndexerError{Code: ErrCodeSearch, Message: "search failed"}
	ErrDownload         = &IndexerError{Code: ErrCodeDownload, Message: "download failed"}
	ErrConfiguration    = &IndexerError{Code: ErrCodeConfiguration, Message: "configuration error"}
	ErrRateLimit        = &IndexerError{Code: ErrCodeRateLimit, Message: "rate limit exceeded"}
	ErrNetwork          = &IndexerError{Code: ErrCodeNetwork, Message: "network error"}
	ErrParse            = &IndexerError{Code: ErrCodeParse, Message: "parse error"}
	ErrCloudflare       = &IndexerError{Code: ErrCodeCloudflare, Message: "site is protected by a Cloudflare challenge"}
	ErrCloudflareBypass = &IndexerError{Code: ErrCodeCloudflareBypass, Message: "Cloudflare bypass already attempted"}
	ErrAllURLsFailed    = &IndexerError{Code: ErrCodeAllURLsFailed, Message: "all indexer URLs failed"}
)

// NewAuthError creates an authentication error typed by cause.
func NewAuthError(cause AuthCause, indexerName string, err error) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeAuthentication,
		Message:     fmt.Sprintf("authentication failed (%s)", cause),
		IndexerName: indexerName,
		AuthCause:   cause,
		Retryable:   cause == AuthCauseNetwork || cause == AuthCauseRateLimited,
		Cause:       err,
	}
}

// IsRetryableStatusCode reports whether a response status is worth another
// attempt. 408/429 and the usual transient 5xx codes retry, as does a
// curated Cloudflare transient subset (520, 525-527). 501 and Cloudflare
// origin-down codes (521-524, 530) fail fast so the caller moves to URL
// failover instead of retrying a dead origin.
func IsRetryableStatusCode(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504, 520, 525, 526, 527:
		return true
	default:
		return false
	}
}

// NewHTTPError creates an error for a non-2xx HTTP response.
func NewHTTPError(status int, indexerName string) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeHTTP,
		Message:     fmt.Sprintf("unexpected HTTP status %d", status),
		IndexerName: indexerName,
		StatusCode:  status,
		Retryable:   IsRetryableStatusCode(status),
	}
}

// NewCloudflareError creates an error for a detected Cloudflare challenge.
// When no bypass has been attempted yet the error is retryable: challenges
// sometimes clear on retry for JSON endpoints.
func NewCloudflareError(status int, bypassAttempted bool) *IndexerError {
	if bypassAttempted {
		return &IndexerError{
			Code:       ErrCodeCloudflareBypass,
			Message:    "Cloudflare bypass already attempted",
			StatusCode: status,
			Retryable:  false,
		}
	}
	return &IndexerError{
		Code:       ErrCodeCloudflare,
		Message:    "site is protected by a Cloudflare challenge",
		StatusCode: status,
		Retryable:  true,
	}
}

// NewNetworkError creates a retryable network error.
func NewNetworkError(indexerName string, err error) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeNetwork,
		Message:     "network error",
		IndexerName: indexerName,
		Retryable:   true,
		Cause:       err,
	}
}

// NewParseError creates a parse error. Parse errors are definition bugs and
// never retryable.
func NewParseError(indexerName, message string, err error) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeParse,
		Message:     message,
		IndexerName: indexerName,
		Retryable:   false,
		Cause:       err,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(indexerName, message string) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeConfiguration,
		Message:     message,
		IndexerName: indexerName,
		Retryable:   false,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(indexerName string) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeRateLimit,
		Message:     "rate limit exceeded",
		IndexerName: indexerName,
		Retryable:   true,
	}
}

// IsRetryable reports whether an error may succeed on retry.
func IsRetryable(err error) bool {
	var ie *IndexerError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}

// IsAuthError reports whether err is an authentication error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsCloudflareError reports whether err indicates active Cloudflare
// protection, bypassed or not.
func IsCloudflareError(err error) bool {
	return errors.Is(err, ErrCloudflare) || errors.Is(err, ErrCloudflareBypass)
}

// GetErrorCode extracts the error code, or "" for untyped errors.
func GetErrorCode(err error) string {
	var ie *IndexerError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// GetStatusCode extracts the HTTP status carried by an error, or 0.
func GetStatusCode(err error) int {
	var ie *IndexerError
	if errors.As(err, &ie) {
		return ie.StatusCode
	}
	return 0
}
