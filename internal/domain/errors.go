package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidBrief        = errors.New("invalid brief")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPromptCount         = errors.New("prompt count mismatch")
	ErrNotRefinable        = errors.New("asset not refinable")
	ErrProviderFailure     = errors.New("provider failure")
)
