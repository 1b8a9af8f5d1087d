package domain

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrReviewNotFound    = errors.New("review item not found")
	ErrInvalidTransition = errors.New("invalid review status transition")
	ErrUnknownDecision   = errors.New("unknown review decision")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrMalformedOutput   = errors.New("malformed generation output")
	ErrStoreUnavailable  = errors.New("store unavailable")
)
