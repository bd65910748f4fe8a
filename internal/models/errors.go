package models

import "errors"

// Domain errors. Handlers map these with errors.Is: validation -> 400,
// not found -> 404, conflicts -> 409. Anything else is a store failure and
// reads as 500 so callers can tell "retry later" from "this action is
// invalid".
var (
	// Validation.
	ErrInvalidNumberCount = errors.New("must pick between 1 and 5 distinct numbers")
	ErrInvalidNumber      = errors.New("number outside the raffle range")
	ErrInvalidSchedule    = errors.New("invalid draw schedule")
	ErrInvalidRaffle      = errors.New("invalid raffle definition")

	// Not found.
	ErrNotFound = errors.New("not found")

	// Conflicts.
	ErrRaffleUnavailable = errors.New("raffle is not open for this operation")
	ErrNumberTaken       = errors.New("number already reserved by another participant")
	ErrAlreadyProcessed  = errors.New("reservation already processed")
	ErrAlreadyScheduled  = errors.New("draw already scheduled")
	ErrAlreadyDrawn      = errors.New("draw already executed")
	ErrNotScheduled      = errors.New("draw is not scheduled")
	ErrNotYetDue         = errors.New("scheduled draw time has not been reached")
	ErrNoParticipants    = errors.New("no approved participants")
)

// IsValidation reports whether err is a locally recoverable input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidNumberCount) ||
		errors.Is(err, ErrInvalidNumber) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidRaffle)
}

// IsConflict reports whether err is a rejected business-rule operation; the
// caller may retry only after re-reading state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRaffleUnavailable) ||
		errors.Is(err, ErrNumberTaken) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrAlreadyScheduled) ||
		errors.Is(err, ErrAlreadyDrawn) ||
		errors.Is(err, ErrNotScheduled) ||
		errors.Is(err, ErrNotYetDue) ||
		errors.Is(err, ErrNoParticipants)
}
