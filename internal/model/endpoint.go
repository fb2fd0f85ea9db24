package model

import "time"

// EndpointRegistration is the stored public endpoint for one key. A nil
// PublicURL means the key exists but has not registered a live endpoint.
type EndpointRegistration struct {
	PublicURL *string    `json:"public_url"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
