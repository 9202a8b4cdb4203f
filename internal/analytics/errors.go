package analytics

import "github.com/rotisserie/eris"

var (
	// ErrMalformedRow marks an external row that cannot be interpreted:
	// unparseable position text, a non-integer district id, a negative or
	// missing count. It aborts the whole aggregation.
	ErrMalformedRow = eris.New("malformed row")

	// ErrUnknownCategory marks a taxonomy category name outside the fixed
	// category mapping.
	ErrUnknownCategory = eris.New("unknown taxonomy category")

	// ErrInvalidKind marks an unsupported geometry kind.
	ErrInvalidKind = eris.New("invalid geometry kind")
)
