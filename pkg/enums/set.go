package enums

import (
	"fmt"
	"slices"
)

// parseOneOf returns raw as a T when it names one of values. kind only shows
// up in the error.
func parseOneOf[T ~string](values []T, kind, raw string) (T, error) {
	if v := T(raw); slices.Contains(values, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
