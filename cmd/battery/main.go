package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess  = 0 // Battery completed
	ExitError    = 1 // Configuration or runtime error
	ExitAborted  = 2 // Session halted mid-task, progress saved for resume
	ExitDeclined = 3 // Operator backed out of the recovery prompt
)

// SessionAbortedError indicates the battery halted mid-task. The session
// document stays on disk, so the next run for the same participant will
// offer to resume it.
type SessionAbortedError struct {
	Participant string
	Err         error
}

func (e *SessionAbortedError) Error() string {
	return fmt.Sprintf("session for %s aborted, progress saved: %v", e.Participant, e.Err)
}

func (e *SessionAbortedError) Unwrap() error { return e.Err }

// RecoveryDeclinedError indicates the operator dismissed the recovery
// prompt without choosing. The stored session is left untouched.
type RecoveryDeclinedError struct {
	Participant string
}

func (e *RecoveryDeclinedError) Error() string {
	return fmt.Sprintf("recovery prompt for %s dismissed, stored session untouched", e.Participant)
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		// Check error type to determine exit code
		var declinedErr *RecoveryDeclinedError
		if errors.As(err, &declinedErr) {
			os.Exit(ExitDeclined)
		}
		var abortedErr *SessionAbortedError
		if errors.As(err, &abortedErr) {
			os.Exit(ExitAborted)
		}

		// All other errors are configuration/runtime errors
		os.Exit(ExitError)
	}
}
