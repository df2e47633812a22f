package models

import "errors"

// Error kinds surfaced by a sync or backtest. Concrete errors wrap one of
// these and are matched with errors.Is.
var (
	ErrFeedUnavailable      = errors.New("feed unavailable")
	ErrFeedEmpty            = errors.New("feed returned no entries (invalid key or symbol)")
	ErrMalformedFeedPayload = errors.New("malformed feed payload")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrConsistencyViolation = errors.New("series consistency violation")
)
