package model

import "time"

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// RateLimitResponse is returned with 429 when a key's window is exhausted.
type RateLimitResponse struct {
	Detail  string `json:"detail"`
	Limit   int    `json:"limit"`
	ResetAt string `json:"reset_at"`
}

// MessageResponse carries a single human-readable message.
type MessageResponse struct {
	Message string `json:"message"`
}

// GenerateKeyRequest is the optional body of POST /api-keys/generate.
type GenerateKeyRequest struct {
	ExpirationDays    *int `json:"expiration_days,omitempty"`
	RequestsPerMinute *int `json:"requests_per_minute,omitempty"`
}

// GenerateKeyResponse returns a new key. This is the only response that ever
// contains the raw key.
type GenerateKeyResponse struct {
	APIKey    string     `json:"api_key"`
	ExpiresAt *time.Time `json:"expires_at"`
	RateLimit int        `json:"rate_limit"`
	Message   string     `json:"message"`
}

// PurgeResponse is the receipt for DELETE /api-keys/{key}.
type PurgeResponse struct {
	Message       string     `json:"message"`
	KeyPrefix     string     `json:"key_prefix"`
	TotalRequests int64      `json:"total_requests"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsed      *time.Time `json:"last_used"`
}

// RegisterEndpointRequest is the body of POST /ngrok-urls/.
type RegisterEndpointRequest struct {
	APIKey   string `json:"api_key"`
	NgrokURL string `json:"ngrok_url"`
}

// StatusResponse acknowledges a write.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// EndpointResponse is returned by GET /ngrok-urls/{api_key}.
type EndpointResponse struct {
	APIKey   string `json:"api_key"`
	NgrokURL string `json:"ngrok_url"`
}

// FileContentRequest is the body of POST /files/content.
type FileContentRequest struct {
	FilePaths []string `json:"file_paths"`
}

// KeySummary describes a stored key without revealing it.
type KeySummary struct {
	KeyPrefix         string     `json:"key_prefix"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUsed          *time.Time `json:"last_used"`
	ExpiresAt         *time.Time `json:"expires_at"`
	RequestsPerMinute int        `json:"requests_per_minute"`
	TotalRequests     int64      `json:"total_requests"`
	Registered        bool       `json:"registered"`
}
