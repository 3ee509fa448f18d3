package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionAbortedError(t *testing.T) {
	cause := errors.New("task \"stroop\": trial 3: scripted failure at trial 3")
	err := &SessionAbortedError{Participant: "P001", Err: cause}

	assert.Equal(t, "session for P001 aborted, progress saved: task \"stroop\": trial 3: scripted failure at trial 3", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestRecoveryDeclinedError(t *testing.T) {
	err := &RecoveryDeclinedError{Participant: "P042"}
	assert.Equal(t, "recovery prompt for P042 dismissed, stored session untouched", err.Error())
}

func TestErrorTypeDetection(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType string
	}{
		{
			name:     "SessionAbortedError",
			err:      &SessionAbortedError{Participant: "P001", Err: errors.New("halt")},
			wantType: "aborted",
		},
		{
			name:     "RecoveryDeclinedError",
			err:      &RecoveryDeclinedError{Participant: "P001"},
			wantType: "declined",
		},
		{
			name:     "wrapped SessionAbortedError",
			err:      fmt.Errorf("running: %w", &SessionAbortedError{Participant: "P001", Err: errors.New("halt")}),
			wantType: "aborted",
		},
		{
			name:     "regular error",
			err:      errors.New("config error"),
			wantType: "other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var abortedErr *SessionAbortedError
			var declinedErr *RecoveryDeclinedError

			switch tt.wantType {
			case "aborted":
				assert.True(t, errors.As(tt.err, &abortedErr))
				assert.False(t, errors.As(tt.err, &declinedErr))
			case "declined":
				assert.True(t, errors.As(tt.err, &declinedErr))
				assert.False(t, errors.As(tt.err, &abortedErr))
			default:
				assert.False(t, errors.As(tt.err, &abortedErr))
				assert.False(t, errors.As(tt.err, &declinedErr))
			}
		})
	}
}
