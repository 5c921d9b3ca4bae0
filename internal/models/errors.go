package models

import "github.com/pkg/errors"

var (
	// ErrNotFound: no tracking config for the given receipt number.
	ErrNotFound = errors.New("tracking config not found")
	// ErrAlreadyTracked: start called twice for one receipt number.
	ErrAlreadyTracked = errors.New("receipt number is already tracked")
	// ErrCheckInProgress: an ad-hoc check raced a check that is already
	// in flight for the same receipt number.
	ErrCheckInProgress = errors.New("a check is already in progress for this receipt number")
)
