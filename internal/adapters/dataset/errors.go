package dataset

import "errors"

// Sentinel kinds for dataset errors.
var (
	ErrMissingColumns    = errors.New("missing required columns")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrInvalidValue      = errors.New("invalid value")
)
