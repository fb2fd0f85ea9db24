package model

import "time"

// WindowLayout formats a rate-limit window bucket. One bucket spans one UTC
// minute.
const WindowLayout = "2006-01-02T15:04Z"

// APIKeyRecord is the per-key metadata held in the credential document. The
// raw key is never stored: records are indexed by the key's SHA-256 hash and
// carry only a short prefix for identification.
type APIKeyRecord struct {
	KeyPrefix     string     `json:"key_prefix"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsed      *time.Time `json:"last_used"`
	ExpiresAt     *time.Time `json:"expires_at"` // nil means never
	RateLimit     RateLimit  `json:"rate_limit"`
	TotalRequests int64      `json:"total_requests"`
}

// RateLimit is the fixed-window counter for one key.
type RateLimit struct {
	RequestsPerMinute  int    `json:"requests_per_minute"`
	CurrentWindow      string `json:"current_window"`
	WindowRequestCount int    `json:"window_request_count"`
}

// Expired reports whether the key is past its expiration at now. A key whose
// expiration equals now is already expired.
func (r *APIKeyRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// WindowOf returns the window bucket containing t.
func WindowOf(t time.Time) string {
	return t.UTC().Format(WindowLayout)
}

// ParseWindow parses a window bucket written by WindowOf.
func ParseWindow(s string) (time.Time, error) {
	return time.Parse(WindowLayout, s)
}

// NextWindow returns the start of the bucket after the one containing t.
func NextWindow(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute).Add(time.Minute)
}
