package posterior

import "errors"

// Input errors. They are fatal for a run and never retried.
var (
	ErrEmptyObservations = errors.New("posterior: observations are empty")
	ErrNoOverlap         = errors.New("posterior: no overlapping stores between observations and features")
	ErrMissingFeature    = errors.New("posterior: feature column missing from stores")
	ErrNotFitted         = errors.New("posterior: pipeline not fitted")
)
