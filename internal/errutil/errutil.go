// Package errutil provides a single error-wrapping helper used uniformly
// across the module, in place of a logging library.
package errutil

import "fmt"

// Wrap annotates err with op using %w so callers can still unwrap to the
// original cause with errors.Is/errors.As. Returns nil if err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", op, err)
}
