package cycling

import "errors"

var (
	// ErrInvalidPoint is returned when a cycle point or interval literal
	// cannot be parsed.
	ErrInvalidPoint = errors.New("invalid cycle point")

	// ErrDomain is returned when point arithmetic would leave the
	// representable range, or when integer and datetime values are mixed.
	ErrDomain = errors.New("cycle point out of domain")
)
