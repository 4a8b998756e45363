package depth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDepth          = errors.New("invalid depth")
	ErrContextWindowExceeded = errors.New("context window exceeded")
	ErrBracketSize           = errors.New("tournament requires exactly 4 drafts")
	ErrMissingCollaborator   = errors.New("missing collaborator")
)

// Phase names the part of a run that failed.
type Phase string

const (
	PhaseDrafting   Phase = "drafting"
	PhaseTournament Phase = "tournament"
	PhasePolish     Phase = "polish"
	PhaseQuality    Phase = "quality"
)

// StageError 报告哪个阶段失败，以及调用方是否还能退回到 depth 1 的结果。
type StageError struct {
	Phase             Phase
	FallbackAvailable bool
	Err               error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s phase failed (fallback available: %t): %v", e.Phase, e.FallbackAvailable, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(phase Phase, fallback bool, err error) error {
	return &StageError{Phase: phase, FallbackAvailable: fallback, Err: err}
}
