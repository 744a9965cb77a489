// Package engine routes validated frames to their targets: broadcast for
// operations, unicast for peer messages, direct reply for server requests.
package engine

import (
	"context"
	"log/slog"

	"github.com/mapsync-project/relay"
	"github.com/mapsync-project/relay/internal/protocol"
	"github.com/mapsync-project/relay/internal/registry"
)

// Engine dispatches parsed frames. Delivery is at-most-once and best effort:
// a send failure to one recipient never aborts delivery to the rest and never
// surfaces to the sender.
type Engine struct {
	log *slog.Logger
}

// New returns an Engine logging through the given logger. A nil logger falls
// back to slog's default.
func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log}
}

// Dispatch routes one frame from the sender identified by senderID within
// room. Join requests never reach Dispatch; the lifecycle handler consumes
// them before the message loop starts.
func (e *Engine) Dispatch(ctx context.Context, msg protocol.Message, senderID string, sender relay.Peer, room *registry.Room) {
	switch m := msg.(type) {
	case *protocol.OperationMessage:
		e.broadcast(ctx, m.Raw(), senderID, room)

	case *protocol.PeerMessage:
		e.unicast(ctx, m.Raw(), m.Recipient, room)

	case *protocol.ServerRequest:
		e.reply(ctx, m, senderID, sender, room)

	default:
		e.log.Warn("unroutable frame", "room", room.ID(), "peer", senderID, "kind", msg.Kind())
	}
}

// Announce broadcasts the room's current peer id list to every member except
// the one identified by excludeID. Called after every membership change; on a
// leave the departed id is already gone from the room, so every remaining
// member is reached.
func (e *Engine) Announce(ctx context.Context, room *registry.Room, excludeID string) {
	frame, err := protocol.EncodeListPeers(room.PeerIDs())
	if err != nil {
		e.log.Error("encode list-peers failed", "room", room.ID(), "error", err)
		return
	}
	e.broadcast(ctx, frame, excludeID, room)
}

// broadcast sends the raw frame to every peer in the room except the sender.
// The target set is snapshotted before the first send.
func (e *Engine) broadcast(ctx context.Context, raw []byte, senderID string, room *registry.Room) {
	for _, peer := range room.Others(senderID) {
		if err := peer.Send(ctx, raw); err != nil {
			e.log.Debug("broadcast send failed", "room", room.ID(), "peer", peer.ID(), "error", err)
		}
	}
}

// unicast delivers the raw frame to the recipient if it is still joined. An
// unknown recipient is a silent no-op: the peer may simply have left.
func (e *Engine) unicast(ctx context.Context, raw []byte, recipient string, room *registry.Room) {
	peer, ok := room.Resolve(recipient)
	if !ok {
		e.log.Debug(relay.ErrPeerNotFound+", dropping frame", "room", room.ID(), "peer", recipient)
		return
	}
	if err := peer.Send(ctx, raw); err != nil {
		e.log.Debug("unicast send failed", "room", room.ID(), "peer", recipient, "error", err)
	}
}

// reply answers a server request directly to its sender.
func (e *Engine) reply(ctx context.Context, req *protocol.ServerRequest, senderID string, sender relay.Peer, room *registry.Room) {
	switch req.Action {
	case protocol.ActionListPeers:
		frame, err := protocol.EncodeListPeers(room.PeerIDs())
		if err != nil {
			e.log.Error("encode list-peers failed", "room", room.ID(), "error", err)
			return
		}
		if err := sender.Send(ctx, frame); err != nil {
			e.log.Debug("reply send failed", "room", room.ID(), "peer", senderID, "error", err)
		}
	}
}
