package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// CheckPositive panics with an assertion failure if value is not strictly positive. It is used for
// contract checks whose violation indicates a bug in the caller rather than a runtime condition.
func CheckPositive[T constraints.Integer](value T, name string) {
	if value <= 0 {
		panic(cerrors.AssertionFailedf("%s must be greater than 0, but was %d", cerrors.Safe(name), value))
	}
}

// CheckNotNil panics with an assertion failure if the provided pointer is nil.
func CheckNotNil[T any](value *T, name string) {
	if value == nil {
		panic(cerrors.AssertionFailedf("%s must not be nil", cerrors.Safe(name)))
	}
}
