// Package history keeps a bounded log of resolved join requests.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/requests"
)

// Record is a resolved join request as it left the active store.
type Record struct {
	RequestID      string          `json:"request_id"`
	GroupID        string          `json:"group_id"`
	RequesterID    string          `json:"requester_id"`
	DisplayName    string          `json:"display_name,omitempty"`
	Status         requests.Status `json:"status"`
	ResolvedBy     string          `json:"resolved_by"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	Candidate      string          `json:"candidate,omitempty"`
	AlreadyDecided bool            `json:"already_decided,omitempty"`
	AdmittedAt     time.Time       `json:"admitted_at"`
	ResolvedAt     time.Time       `json:"resolved_at"`
}

// FromRequest builds a record from a resolved request. candidate names the
// identifier encoding the platform accepted.
func FromRequest(req requests.JoinRequest, candidate string, alreadyDecided bool) Record {
	return Record{
		RequestID:      req.ID,
		GroupID:        req.GroupID,
		RequesterID:    req.RequesterID,
		DisplayName:    req.DisplayName,
		Status:         req.Status,
		ResolvedBy:     req.ResolvedBy,
		RejectReason:   req.RejectReason,
		Candidate:      candidate,
		AlreadyDecided: alreadyDecided,
		AdmittedAt:     req.AdmittedAt,
		ResolvedAt:     req.ResolvedAt,
	}
}

// Request converts the record back into a read-only request snapshot.
func (r Record) Request() requests.JoinRequest {
	return requests.JoinRequest{
		ID:           r.RequestID,
		GroupID:      r.GroupID,
		RequesterID:  r.RequesterID,
		DisplayName:  r.DisplayName,
		Status:       r.Status,
		ResolvedBy:   r.ResolvedBy,
		RejectReason: r.RejectReason,
		AdmittedAt:   r.AdmittedAt,
		ResolvedAt:   r.ResolvedAt,
	}
}

// Store persists resolution records. List returns newest first.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Get(ctx context.Context, requestID string) (*Record, error)
	List(ctx context.Context, limit, offset int) ([]Record, error)
}

// Mirror serves reads from a primary store and copies writes to a secondary
// one. Secondary failures are logged and counted, never returned.
type Mirror struct {
	primary   Store
	secondary Store
	backend   string
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewMirror creates a Mirror. backend labels secondary writes in metrics.
func NewMirror(primary, secondary Store, backend string, metrics *observability.Metrics, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		primary:   primary,
		secondary: secondary,
		backend:   backend,
		metrics:   metrics,
		logger:    logger.With("component", "history"),
	}
}

// Append writes to both stores.
func (m *Mirror) Append(ctx context.Context, rec Record) error {
	if err := m.primary.Append(ctx, rec); err != nil {
		return err
	}
	if m.secondary == nil {
		return nil
	}
	err := m.secondary.Append(ctx, rec)
	m.metrics.RecordHistoryWrite(m.backend, err)
	if err != nil {
		m.logger.WarnContext(ctx, "history mirror write failed", "request_id", rec.RequestID, "error", err)
	}
	return nil
}

// Get reads from the primary store, falling back to the secondary.
func (m *Mirror) Get(ctx context.Context, requestID string) (*Record, error) {
	rec, err := m.primary.Get(ctx, requestID)
	if err != nil || rec != nil || m.secondary == nil {
		return rec, err
	}
	return m.secondary.Get(ctx, requestID)
}

// List reads from the primary store.
func (m *Mirror) List(ctx context.Context, limit, offset int) ([]Record, error) {
	return m.primary.List(ctx, limit, offset)
}
