package realtime

import (
	"errors"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aboutevan/prello/domain"
)

// Sender delivers one event to one connection. The SSE and WebSocket
// transports share a Hub implementation; tests substitute fakes.
type Sender interface {
	Send(connID string, ev domain.Event) error
}

// Notifier publishes change events to every connection in a board's
// room except, optionally, the originator. Publishing is fire and
// forget: it returns once every recipient's dispatch has been handed to
// the transport.
type Notifier struct {
	registry *Registry
	sender   Sender
	bridge   *Bridge
	logger   *log.Logger
}

// NewNotifier creates a Notifier. bridge may be nil when the service
// runs as a single instance.
func NewNotifier(registry *Registry, sender Sender, bridge *Bridge, logger *log.Logger) *Notifier {
	return &Notifier{registry: registry, sender: sender, bridge: bridge, logger: logger}
}

// Publish fans (kind, payload) out to the members of boardID's room,
// skipping exclude. Recipients that dropped between the membership
// snapshot and the send are cleaned up, never surfaced to the caller.
func (n *Notifier) Publish(boardID, kind string, payload any, exclude string) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		n.logger.WithError(err).WithField("kind", kind).Error("encode event payload")
		return
	}
	ev := domain.Event{
		ID:      uuid.NewString(),
		BoardID: boardID,
		Kind:    kind,
		Data:    data,
		Time:    nextTimestamp(),
	}
	n.Deliver(ev, exclude)
	if n.bridge != nil {
		n.bridge.Forward(ev, exclude)
	}
}

// Deliver dispatches an already-built event to the local room members.
// The bridge calls it for events originating on other instances.
func (n *Notifier) Deliver(ev domain.Event, exclude string) {
	for _, connID := range n.registry.Members(ev.BoardID) {
		if connID == exclude {
			continue
		}
		if err := n.sender.Send(connID, ev); errors.Is(err, ErrConnectionGone) {
			n.registry.OnDisconnect(connID)
		}
	}
}
