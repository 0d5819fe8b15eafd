// Package continuity chains named fallible steps: each step runs only if no
// earlier step failed, and a failure is reported with the name of the step
// that produced it. Used for teardown/validation sequences (flushing and
// closing a database's header stores) where the first failure should stop
// the chain but still identify itself.
package continuity

import "strings"

type IfThen struct {
	failedAt ErrArray
}

// StepError is one step's failure, labeled with the step name it was
// registered under.
type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string {
	if e.Step == "" {
		return e.Err.Error()
	}
	return e.Step + ": " + e.Err.Error()
}

func (e StepError) Unwrap() error { return e.Err }

type ErrArray []error

func (e ErrArray) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	errs := make([]string, len(e))
	for i, err := range e {
		errs[i] = err.Error()
	}
	return "multiple errors: " + strings.Join(errs, ", ")
}

func New() *IfThen {
	return new(IfThen)
}

// Thenf runs f if no earlier step failed, recording any failure under name.
func (it *IfThen) Thenf(name string, f func() error) *IfThen {
	if len(it.failedAt) > 0 {
		return it
	}
	if err := f(); err != nil {
		it.failedAt = append(it.failedAt, StepError{Step: name, Err: err})
	}
	return it
}

// Then records already-evaluated errors under name, if no earlier step
// failed and any of them is non-nil.
func (it *IfThen) Then(name string, errs ...error) *IfThen {
	if len(it.failedAt) > 0 {
		return it
	}
	for _, err := range errs {
		if err != nil {
			it.failedAt = append(it.failedAt, StepError{Step: name, Err: err})
		}
	}
	return it
}

// Err returns the chain's accumulated failure, or nil if every step ran
// cleanly.
func (it *IfThen) Err() error {
	if len(it.failedAt) == 0 {
		return nil
	}
	return it.failedAt
}
