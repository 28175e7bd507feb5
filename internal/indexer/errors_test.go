package indexer

import (
	"errors"
	"fmt"
	"testing"
)

func TestIndexerErrorMatching(t *testing.T) {
	authErr := NewAuthError(AuthCauseCredentials, "Tracker", nil)
	wrapped := fmt.Errorf("login: %w", authErr)

	if !errors.Is(wrapped, ErrAuthentication) {
		t.Error("wrapped auth error should match ErrAuthentication")
	}
	if errors.Is(wrapped, ErrNetwork) {
		t.Error("auth error should not match ErrNetwork")
	}
	if !IsAuthError(wrapped) {
		t.Error("IsAuthError should see through wrapping")
	}

	var ie *IndexerError
	if !errors.As(wrapped, &ie) {
		t.Fatal("errors.As should extract IndexerError")
	}
	if ie.AuthCause != AuthCauseCredentials {
		t.Errorf("AuthCause = %q, want %q", ie.AuthCause, AuthCauseCredentials)
	}
}

func TestAuthErrorRetryable(t *testing.T) {
	tests := []struct {
		cause     AuthCause
		retryable bool
	}{
		{AuthCauseCredentials, false},
		{AuthCauseCaptcha, false},
		{AuthCauseRateLimited, true},
		{AuthCauseNetwork, true},
		{AuthCauseUnknown, false},
	}
	for _, tt := range tests {
		err := NewAuthError(tt.cause, "", nil)
		if err.Retryable != tt.retryable {
			t.Errorf("cause %q: Retryable = %v, want %v", tt.cause, err.Retryable, tt.retryable)
		}
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503, 504, 520, 525, 526, 527}
	for _, status := range retryable {
		if !IsRetryableStatusCode(status) {
			t.Errorf("status %d should be retryable", status)
		}
	}
	fatal := []int{200, 301, 400, 401, 403, 404, 501, 521, 522, 523, 524, 530}
	for _, status := range fatal {
		if IsRetryableStatusCode(status) {
			t.Errorf("status %d should not be retryable", status)
		}
	}
}

func TestCloudflareErrors(t *testing.T) {
	first := NewCloudflareError(403, false)
	if !first.Retryable {
		t.Error("first challenge detection should be retryable")
	}
	if first.Code != ErrCodeCloudflare {
		t.Errorf("Code = %q, want %q", first.Code, ErrCodeCloudflare)
	}

	after := NewCloudflareError(503, true)
	if after.Retryable {
		t.Error("error after a failed bypass should not be retryable")
	}
	if after.Code != ErrCodeCloudflareBypass {
		t.Errorf("Code = %q, want %q", after.Code, ErrCodeCloudflareBypass)
	}

	for _, err := range []*IndexerError{first, after} {
		if !IsCloudflareError(err) {
			t.Errorf("IsCloudflareError(%q) = false", err.Code)
		}
	}
	if IsCloudflareError(NewHTTPError(403, "")) {
		t.Error("plain 403 is not a Cloudflare error")
	}
}

func TestErrorAccessors(t *testing.T) {
	httpErr := fmt.Errorf("fetch: %w", NewHTTPError(502, "Tracker"))

	if got := GetErrorCode(httpErr); got != ErrCodeHTTP {
		t.Errorf("GetErrorCode = %q, want %q", got, ErrCodeHTTP)
	}
	if got := GetStatusCode(httpErr); got != 502 {
		t.Errorf("GetStatusCode = %d, want 502", got)
	}
	if !IsRetryable(httpErr) {
		t.Error("502 should be retryable through wrapping")
	}

	plain := errors.New("boom")
	if GetErrorCode(plain) != "" || GetStatusCode(plain) != 0 || IsRetryable(plain) {
		t.Error("untyped errors should yield zero values")
	}
}

func TestErrorString(t *testing.T) {
	withName := NewParseError("Tracker", "no rows matched", nil)
	if got := withName.Error(); got != "[PARSE_ERROR] Tracker: no rows matched" {
		t.Errorf("Error() = %q", got)
	}
	without := NewCloudflareError(403, false)
	if got := without.Error(); got != "[CLOUDFLARE_PROTECTED] site is protected by a Cloudflare challenge" {
		t.Errorf("Error() = %q", got)
	}
}
