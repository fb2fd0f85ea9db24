package config

import (
	"errors"
	"fmt"
)

// ErrInvalid is returned when a setting holds a value that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

func invalid(key, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalid, key, reason)
}
