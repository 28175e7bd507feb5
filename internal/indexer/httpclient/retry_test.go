package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableStatusCode(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{408, true},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{520, true},
		{525, true},
		{526, true},
		{527, true},
		{200, false},
		{301, false},
		{401, false},
		{403, false},
		{404, false},
		{501, false},
		{521, false},
		{522, false},
		{523, false},
		{524, false},
		{530, false},
	}

	for _, tt := range tests {
		if got := IsRetryableStatusCode(tt.status); got != tt.want {
			t.Errorf("IsRetryableStatusCode(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestIsCloudflareTransientStatus(t *testing.T) {
	for _, status := range []int{520, 525, 526, 527} {
		if !IsCloudflareTransientStatus(status) {
			t.Errorf("expected %d to be transient", status)
		}
	}
	for _, status := range []int{500, 503, 521, 522, 523, 524, 530} {
		if IsCloudflareTransientStatus(status) {
			t.Errorf("expected %d not to be transient", status)
		}
	}
}

func TestDelayBackoff(t *testing.T) {
	p := RetryPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0, // deterministic
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 30 * time.Second}, // clamped
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}

	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		if d < 1600*time.Millisecond || d > 2400*time.Millisecond {
			t.Fatalf("Delay(2) = %v, want within [1.6s, 2.4s]", d)
		}
	}
}

func TestRetryAfterDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 1 * time.Second, MaxDelay: 30 * time.Second}

	t.Run("seconds", func(t *testing.T) {
		d, ok := p.RetryAfterDelay("5")
		if !ok || d != 5*time.Second {
			t.Errorf("got (%v, %v), want (5s, true)", d, ok)
		}
	})

	t.Run("clamped to max", func(t *testing.T) {
		d, ok := p.RetryAfterDelay("3600")
		if !ok || d != 30*time.Second {
			t.Errorf("got (%v, %v), want (30s, true)", d, ok)
		}
	})

	t.Run("clamped to initial", func(t *testing.T) {
		d, ok := p.RetryAfterDelay("0")
		if !ok || d != 1*time.Second {
			t.Errorf("got (%v, %v), want (1s, true)", d, ok)
		}
	})

	t.Run("http date", func(t *testing.T) {
		header := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
		d, ok := p.RetryAfterDelay(header)
		if !ok || d < 8*time.Second || d > 10*time.Second {
			t.Errorf("got (%v, %v), want roughly 10s", d, ok)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, ok := p.RetryAfterDelay("next tuesday"); ok {
			t.Error("expected garbage header to be rejected")
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, ok := p.RetryAfterDelay(""); ok {
			t.Error("expected empty header to be rejected")
		}
	})
}

func TestIsCloudflareChallenge(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers http.Header
		body    string
		want    bool
	}{
		{
			name:   "just a moment 503",
			status: 503,
			body:   "<html><title>Just a moment...</title></html>",
			want:   true,
		},
		{
			name:   "checking browser 403",
			status: 403,
			body:   "Checking your browser before accessing",
			want:   true,
		},
		{
			name:    "cf-mitigated header",
			status:  403,
			headers: http.Header{"Cf-Mitigated": []string{"challenge"}},
			body:    "",
			want:    true,
		},
		{
			name:   "plain 503 maintenance",
			status: 503,
			body:   "<html>Down for maintenance</html>",
			want:   false,
		},
		{
			name:   "challenge text on 200",
			status: 200,
			body:   "Just a moment...",
			want:   false,
		},
		{
			name:   "challenge text on 500",
			status: 500,
			body:   "Just a moment...",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := tt.headers
			if headers == nil {
				headers = http.Header{}
			}
			got := IsCloudflareChallenge(tt.status, headers, []byte(tt.body))
			if got != tt.want {
				t.Errorf("IsCloudflareChallenge() = %v, want %v", got, tt.want)
			}
		})
	}
}
