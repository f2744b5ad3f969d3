package resolver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidIdentifier means the external system rejected the identifier
	// encoding itself. The resolver moves on to the next candidate.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrAlreadyDecided means the external system had already applied a
	// decision for the request. The resolver treats it as success.
	ErrAlreadyDecided = errors.New("request already decided")
	// ErrNoCandidates means the request carried no usable identifier.
	ErrNoCandidates = errors.New("no candidate identifiers")
)

// AttemptOutcome classifies one call of the decide operation.
type AttemptOutcome string

const (
	OutcomeAccepted          AttemptOutcome = "accepted"
	OutcomeAlreadyDecided    AttemptOutcome = "already_decided"
	OutcomeInvalidIdentifier AttemptOutcome = "invalid_identifier"
	OutcomeTransient         AttemptOutcome = "transient"
)

// Classify maps an error returned by a Decider onto an attempt outcome.
func Classify(err error) AttemptOutcome {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, ErrAlreadyDecided):
		return OutcomeAlreadyDecided
	case errors.Is(err, ErrInvalidIdentifier):
		return OutcomeInvalidIdentifier
	default:
		return OutcomeTransient
	}
}

// AllStrategiesFailedError is returned when every candidate identifier was
// exhausted without the external system accepting the decision.
type AllStrategiesFailedError struct {
	RequestID string
	Tried     []Candidate
	Attempts  []Attempt
}

func (e *AllStrategiesFailedError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("resolve %s: %v", e.RequestID, ErrNoCandidates)
	}
	tried := make([]string, 0, len(e.Tried))
	for _, c := range e.Tried {
		tried = append(tried, c.String())
	}
	msg := fmt.Sprintf("resolve %s: all %d candidate identifiers failed [%s]", e.RequestID, len(e.Tried), strings.Join(tried, ", "))
	if last := e.LastError(); last != nil {
		msg += ": " + last.Error()
	}
	return msg
}

// LastError returns the error of the final attempt, if any.
func (e *AllStrategiesFailedError) LastError() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Unwrap exposes ErrNoCandidates when there was nothing to try.
func (e *AllStrategiesFailedError) Unwrap() error {
	if len(e.Tried) == 0 {
		return ErrNoCandidates
	}
	return nil
}

// IsAllStrategiesFailed reports whether err is an AllStrategiesFailedError.
func IsAllStrategiesFailed(err error) bool {
	var target *AllStrategiesFailedError
	return errors.As(err, &target)
}
