package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// SystemActor identifies postings made by the engine itself rather than a
// treasurer or member: auto-applied penalties, scheduler sweeps, excess
// transfers.
const SystemActor = "system"

// ValidationError reports input that violates a business rule: an imbalanced
// entry, a proof that does not match its declaration, an over-limit loan
// request.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// NotFoundError reports a missing account, declaration, loan, tier or cycle.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// StateError reports an operation attempted from a state that does not
// permit it, like approving a proof that is not submitted or reopening a
// cycle that is not closed.
type StateError struct {
	Msg string
}

func (e StateError) Error() string { return e.Msg }

// ConfigError reports missing configuration the operation depends on: an
// absent organization ledger account, no tier assignment, no interest rate
// for a term.
type ConfigError struct {
	Msg string
}

func (e ConfigError) Error() string { return e.Msg }

func errValidationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func errNotFound(resource, id string) error {
	return NotFoundError{Resource: resource, ID: id}
}

func errStatef(format string, args ...any) error {
	return StateError{Msg: fmt.Sprintf(format, args...)}
}

func errConfigf(format string, args ...any) error {
	return ConfigError{Msg: fmt.Sprintf(format, args...)}
}

func errImbalanced(debits, credits decimal.Decimal) error {
	return errValidationf("imbalanced entry: debits %s, credits %s", debits, credits)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e ValidationError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e NotFoundError
	return errors.As(err, &e)
}

// IsState reports whether err is a StateError.
func IsState(err error) bool {
	var e StateError
	return errors.As(err, &e)
}

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	var e ConfigError
	return errors.As(err, &e)
}
