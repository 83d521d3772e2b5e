package scanner

import (
	"github.com/pkg/errors"
)

// Error classes of the discovery engine. Callers distinguish failure modes
// with errors.Is; the concrete message carries the detail.
var (
	// ErrValidation rejects malformed or out-of-policy range specs before
	// any probing starts.
	ErrValidation = errors.New("validation error")

	// ErrUnsupportedPrefix marks CIDR prefixes the parser does not handle.
	// It is a validation error as well.
	ErrUnsupportedPrefix = errors.Wrap(ErrValidation, "unsupported prefix length")

	// ErrPersistence marks a failed repository write during reconciliation.
	ErrPersistence = errors.New("persistence error")
)

func validationErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
