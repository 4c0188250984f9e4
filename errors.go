package vcal

import (
	"errors"
)

var (
	// ErrParse is the base error for malformed dates, times, durations and
	// escaped text.  Wrapped errors name the offending input.
	ErrParse = errors.New("parse error")
	// ErrValidate is the base error for structural violations such as
	// conflicting mutually-exclusive children or cardinality breaches.
	ErrValidate = errors.New("validation failed")
	// ErrUnsupportedValue is returned when a VALUE parameter names a
	// variant the behavior cannot handle, or a native value has an
	// unexpected runtime type.
	ErrUnsupportedValue = errors.New("unsupported value type")
	// ErrInference is returned when no timezone identifier can be
	// determined for a time source.
	ErrInference = errors.New("timezone inference failed")
	// ErrPropertyNotFound is the error returned if the requested valid
	// property is not set.
	ErrPropertyNotFound = errors.New("property not found")
)
