package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition is returned by control operations that are not
	// valid from the current run status.
	ErrInvalidTransition = errors.New("invalid run state transition")
	// ErrNoRun is returned by Wait when no run was ever started.
	ErrNoRun = errors.New("no dispatch run")
)

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ValidationError lists every problem found in a DispatchConfig.
// A run never starts when Build returns one.
type ValidationError struct {
	NoRecipients    bool
	BlankRecipients []int // indexes into DispatchConfig.Recipients
	NoProfiles      bool
	BlankProfileIDs int

	DuplicateProfiles    []string
	EmptyPayloadProfiles []string

	Pacing error
}

func (e *ValidationError) HasProblems() bool {
	return e.NoRecipients || len(e.BlankRecipients) > 0 || e.NoProfiles || e.BlankProfileIDs > 0 ||
		len(e.DuplicateProfiles) > 0 || len(e.EmptyPayloadProfiles) > 0 || e.Pacing != nil
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.NoRecipients {
		parts = append(parts, "no recipients")
	}
	if n := len(e.BlankRecipients); n > 0 {
		parts = append(parts, fmt.Sprintf("%d blank recipient(s)", n))
	}
	if e.NoProfiles {
		parts = append(parts, "no profiles assigned")
	}
	if e.BlankProfileIDs > 0 {
		parts = append(parts, fmt.Sprintf("%d assignment(s) without a profile id", e.BlankProfileIDs))
	}
	if len(e.DuplicateProfiles) > 0 {
		parts = append(parts, "duplicate profiles: "+strings.Join(e.DuplicateProfiles, ", "))
	}
	if len(e.EmptyPayloadProfiles) > 0 {
		parts = append(parts, "profiles without content: "+strings.Join(e.EmptyPayloadProfiles, ", "))
	}
	if e.Pacing != nil {
		parts = append(parts, "pacing: "+e.Pacing.Error())
	}
	return "invalid dispatch config: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Pacing }
