package engine

import (
	"errors"

	"streakline/internal/domain"
)

var (
	ErrNotFound          = errors.New("participant not found")
	ErrAlreadyRegistered = errors.New("participant already registered")

	ErrPaused          = errors.New("tracking is paused; resume before recording")
	ErrAlreadyPaused   = errors.New("tracking is already paused")
	ErrNotPaused       = errors.New("tracking is already active")
	ErrAlreadyLogged   = errors.New("today is already logged")
	ErrAlreadyExempt   = errors.New("today is already exempt")
	ErrCutoffPassed    = errors.New("backfill window has closed for yesterday")
	ErrYesterdayLogged = errors.New("yesterday is already logged")
	ErrTodayLogged     = errors.New("today is already logged; yesterday can no longer be backfilled")

	ErrEmptyReason   = errors.New("exemption reason is required")
	ErrInvalidAmount = errors.New("payment amount must be a number greater than zero")
)

// IsValidation reports whether err rejects malformed input.
func IsValidation(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidGoal,
		domain.ErrInvalidPledge,
		domain.ErrInvalidID,
		ErrEmptyReason,
		ErrInvalidAmount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict reports whether err rejects an operation because of current state.
func IsConflict(err error) bool {
	for _, target := range []error{
		ErrAlreadyRegistered,
		ErrPaused,
		ErrAlreadyPaused,
		ErrNotPaused,
		ErrAlreadyLogged,
		ErrAlreadyExempt,
		ErrCutoffPassed,
		ErrYesterdayLogged,
		ErrTodayLogged,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
