package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingKey      = errors.New("missing api key")
	ErrInvalidKey      = errors.New("invalid api key")
	ErrKeyExpired      = errors.New("api key has expired")
	ErrNotAuthorized   = errors.New("not authorized to purge this key")
	ErrAdminProtected  = errors.New("the admin key cannot be purged")
	ErrForbidden       = errors.New("key may only manage its own endpoint")
	ErrKeyNotFound     = errors.New("api key not found")
	ErrNoEndpoint      = errors.New("no endpoint registered")
	ErrInvalidOptions  = errors.New("invalid key options")
	ErrInvalidEndpoint = errors.New("invalid endpoint url")
	ErrCorruptRecord   = errors.New("corrupt key record")
)

// RateLimitError is returned when a key has used its whole window.
type RateLimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute exceeded, resets at %s",
		e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}
