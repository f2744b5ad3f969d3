// Package requests holds join requests under review and the single atomic
// gate through which every outcome is recorded.
package requests

import (
	"errors"
	"time"
)

// Status is the review state of a join request.
type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusAutoApproved Status = "auto_approved"
)

// Terminal reports whether the status ends the review.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusAutoApproved:
		return true
	default:
		return false
	}
}

// Approves reports whether the status admits the requester.
func (s Status) Approves() bool {
	return s == StatusApproved || s == StatusAutoApproved
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// SystemActor is recorded as ResolvedBy for automatic outcomes.
const SystemActor = "system"

var (
	// ErrNotFound is returned for unknown request ids.
	ErrNotFound = errors.New("join request not found")
	// ErrAlreadyResolved is returned when a request has left the pending state.
	ErrAlreadyResolved = errors.New("join request already resolved")
	// ErrInvalidStatus is returned for transitions to a non-terminal status.
	ErrInvalidStatus = errors.New("invalid target status")
	// ErrAmbiguous is returned by Lookup when a reference matches several requests.
	ErrAmbiguous = errors.New("reference matches more than one join request")
)

// Identifiers are the raw tokens carried by the inbound event. The resolver
// turns them into candidate encodings for the decide operation.
type Identifiers struct {
	// Token is the opaque provider-issued handle (OneBot "flag").
	Token string `json:"token,omitempty"`
	// Sequence is a sequence or correlation number, when the platform has one.
	Sequence string `json:"sequence,omitempty"`
	// Extra holds any other named tokens found on the event.
	Extra map[string]string `json:"extra,omitempty"`
}

// JoinRequest is one applicant's ask to join a group.
type JoinRequest struct {
	ID           string      `json:"id"`
	RequesterID  string      `json:"requester_id"`
	GroupID      string      `json:"group_id"`
	DisplayName  string      `json:"display_name"`
	Comment      string      `json:"comment,omitempty"`
	Identifiers  Identifiers `json:"identifiers"`
	Status       Status      `json:"status"`
	AdmittedAt   time.Time   `json:"admitted_at"`
	ResolvedAt   time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy   string      `json:"resolved_by,omitempty"`
	RejectReason string      `json:"reject_reason,omitempty"`
}

// MakeID derives the stable request id for a group/requester pair.
func MakeID(groupID, requesterID string) string {
	return groupID + ":" + requesterID
}

// Label returns a human readable name for the requester.
func (r JoinRequest) Label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.RequesterID
}

func (r JoinRequest) clone() JoinRequest {
	if r.Identifiers.Extra != nil {
		extra := make(map[string]string, len(r.Identifiers.Extra))
		for k, v := range r.Identifiers.Extra {
			extra[k] = v
		}
		r.Identifiers.Extra = extra
	}
	return r
}
