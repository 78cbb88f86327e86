package spatial

import "errors"

var (
	// ErrInvalidK is returned for a neighbour count below 1.
	ErrInvalidK = errors.New("spatial: k must be at least 1")
	// ErrInvalidFactor is returned for a smoothing factor outside [0,1].
	ErrInvalidFactor = errors.New("spatial: smoothing factor must be within [0,1]")
	// ErrLengthMismatch is returned when points and estimates disagree in length.
	ErrLengthMismatch = errors.New("spatial: points and estimates differ in length")
)
