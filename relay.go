package relay

import "context"

// Server is the websocket relay for collaborative editing sessions.
//
// Clients open one persistent websocket per session. The first frame must be a
// join request carrying a capability token signed by the upstream application;
// once the token checks out the connection becomes a peer in the room named by
// the token, and every subsequent frame is routed by the relay: operation
// messages are broadcast verbatim to the other peers in the room, peer
// messages are delivered to a single recipient, and server requests are
// answered directly.
//
// Example usage:
//
//	import "github.com/mapsync-project/relay/ws"
//
//	cfg := ws.NewConfig("127.0.0.1:8012", secret, ws.DefaultRateLimitConfig(), ws.AllOrigins())
//	server := ws.New(cfg)
//	server.Start(ctx)
type Server interface {
	// Start starts the relay and begins accepting websocket connections.
	// The server keeps running until Stop is called or the context is
	// cancelled.
	//
	// Returns an error if the server is already running or the listen
	// address cannot be bound.
	Start(ctx context.Context) error

	// Stop gracefully stops the relay. Every connected peer is closed and
	// the HTTP listener is shut down.
	Stop(ctx context.Context) error

	// Stats reports the number of live rooms and connected peers. Exposed
	// over HTTP as /stats; useful for health dashboards.
	Stats() (rooms, peers int)
}

// Peer is one live connection inside a room.
//
// A peer exists from the moment its join is accepted until its connection
// closes. Its id is assigned by the room registry at join time and is unique
// within the room for as long as the peer is connected; it is never handed to
// another connection while this one is alive.
type Peer interface {
	// ID returns the ephemeral peer id assigned at join time. Empty until
	// the join completes.
	ID() string

	// RemoteAddr returns the peer's remote network address, typically
	// "IP:port".
	RemoteAddr() string

	// Context returns the peer's lifecycle context. It is cancelled when
	// the connection closes, whatever the reason.
	Context() context.Context

	// Send queues a single text frame for delivery to the peer. Delivery
	// is best effort: the frame is dropped when the peer's send buffer is
	// full, and an error is returned once the connection is closed.
	Send(ctx context.Context, frame []byte) error

	// Close closes the connection with a normal closure code.
	Close(ctx context.Context) error

	// IsAlive reports whether the connection is still open.
	IsAlive() bool
}
