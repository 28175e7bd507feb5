// Package httpclient is the resilience layer between the definition runtime
// and the network: per-indexer cookie jars, rate limiting, retry with
// backoff, multi-URL failover, response decoding and Cloudflare challenge
// handling.
package httpclient

import (
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/keonramses/cinephage/internal/indexer"
)

// RetryPolicy controls exponential backoff for a single URL's attempts.
type RetryPolicy struct {
	MaxRetries   int           // additional attempts beyond the first
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // symmetric, 0.2 = +-20%
}

// DefaultRetryPolicy returns the policy used when a caller does not supply
// one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// IsRetryableStatusCode mirrors the status partition the failover logic
// depends on.
func IsRetryableStatusCode(status int) bool {
	return indexer.IsRetryableStatusCode(status)
}

// IsCloudflareTransientStatus reports the Cloudflare statuses that warrant
// exactly one retry. Origin-down codes (521-524, 530) are excluded on
// purpose.
func IsCloudflareTransientStatus(status int) bool {
	switch status {
	case 520, 525, 526, 527:
		return true
	default:
		return false
	}
}

// Delay computes the backoff before the given retry (attempt counts from 1)
// with symmetric jitter applied.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
	}
	if max := float64(p.MaxDelay); delay > max {
		delay = max
	}
	if p.JitterFactor > 0 {
		jitter := delay * p.JitterFactor
		delay = delay - jitter + rand.Float64()*2*jitter
	}
	return time.Duration(delay)
}

// RetryAfterDelay parses a Retry-After header (seconds or HTTP-date) and
// clamps the result to [InitialDelay, MaxDelay]. The second return is
// false when the header is absent or unparseable.
func (p RetryPolicy) RetryAfterDelay(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}

	var delay time.Duration
	if secs, err := strconv.Atoi(header); err == nil {
		delay = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(header); err == nil {
		delay = time.Until(t)
	} else {
		return 0, false
	}

	if delay < p.InitialDelay {
		delay = p.InitialDelay
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay, true
}

// transientErrorMarkers are substrings of transport errors that indicate a
// transient condition worth retrying.
var transientErrorMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"tls handshake timeout",
	"unexpected eof",
	"request canceled while waiting",
	"temporary failure",
}

// IsTransientNetError reports whether a transport-level error is worth
// another attempt.
func IsTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
