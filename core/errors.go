package core

import "errors"

var (
	ErrInvalidUser    = errors.New("empty user id")
	ErrEntryNotFound  = errors.New("impact entry not found")
	ErrUnknownAction  = errors.New("unknown action type")
	ErrEmptySummary   = errors.New("summary cannot be empty")
	ErrOverflow       = errors.New("integer overflow in AddSafe")
	ErrInvalidPeriod  = errors.New("invalid period")
	ErrProfileMissing = errors.New("impact profile not found")
)
