// Package platform defines the boundary between the review workflow and the
// chat platforms that deliver join requests.
package platform

import (
	"context"

	"github.com/haasonsaas/joingate/internal/requests"
	"github.com/haasonsaas/joingate/internal/resolver"
)

// JoinEvent is an inbound request to join a group.
type JoinEvent struct {
	// Platform names the adapter that produced the event.
	Platform    string
	GroupID     string
	RequesterID string
	// DisplayName is set when the event itself carried the requester's name.
	DisplayName string
	Comment     string
	Identifiers requests.Identifiers
}

// GroupMessage is a text message posted in a group the bot can see.
type GroupMessage struct {
	Platform string
	GroupID  string
	SenderID string
	Text     string
}

// Handler receives inbound platform events. Implementations must be safe for
// concurrent use.
type Handler interface {
	HandleJoinRequest(ctx context.Context, event JoinEvent)
	HandleGroupMessage(ctx context.Context, msg GroupMessage)
}

// ProfileLookup resolves a user's display name.
type ProfileLookup interface {
	DisplayName(ctx context.Context, groupID, userID string) (string, error)
}

// Adapter is a connected chat platform.
//
// Besides the lifecycle methods an adapter is the decide operation used by
// the resolver, the messenger used by the notifier and the profile lookup
// used at admission.
type Adapter interface {
	// Name returns the platform name used in logs and metrics.
	Name() string

	// Start connects and begins delivering events to handler. It returns once
	// the adapter is running; delivery continues until Stop or ctx ends.
	Start(ctx context.Context, handler Handler) error

	// Stop disconnects and waits for background work to finish.
	Stop(ctx context.Context) error

	resolver.Decider
	SendGroupMessage(ctx context.Context, groupID, text string) error
	ProfileLookup
}
