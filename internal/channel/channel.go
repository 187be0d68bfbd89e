package channel

import (
	"context"

	"github.com/musterbot/muster/internal/bus"
	"github.com/musterbot/muster/internal/compose"
	"github.com/musterbot/muster/internal/roster"
)

// Channel is the interface for chat platform integrations.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, reply *bus.Reply) error
}

// Capabilities is the narrow surface the tracker needs from a transport
// beyond the bus: a live authorization check and the platform's text rules.
type Capabilities interface {
	// IsAdministrator reports whether the user holds elevated status in the
	// conversation right now, per the platform's own notion of admin.
	IsAdministrator(ctx context.Context, convo, userID string) (bool, error)
	Format() compose.Format
}

// AdminLister is optionally implemented by transports that can enumerate a
// conversation's administrators, letting the tracker seed the roster with
// them before composing a tag-everyone reply.
type AdminLister interface {
	Administrators(ctx context.Context, convo string) ([]roster.Participant, error)
}
