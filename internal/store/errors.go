package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound reports an unknown device, farmer, or alert.
var ErrNotFound = errors.New("not found")

// ErrUnavailable reports a store timeout. Callers may retry with backoff.
var ErrUnavailable = errors.New("store unavailable")

// mapErr normalizes driver errors into the two kinds callers dispatch on.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrUnavailable
	default:
		return err
	}
}
