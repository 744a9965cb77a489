// Package relay implements the real-time synchronization relay for
// collaborative map editing sessions.
//
// Multiple clients editing the same shared map (a "room") connect to the
// relay over a persistent websocket and see each other's edits immediately.
// The relay is deliberately a dumb pipe: it checks a signed capability token
// once at join time, tracks room membership, and routes frames. It never
// stores edits, never merges concurrent operations (clients own conflict
// resolution), and makes no delivery guarantee beyond best effort.
//
// # Architecture
//
// The upstream web application issues a signed, short-lived capability token
// through its own authenticated channel. The client then opens a websocket to
// the relay and sends a join frame carrying the token. On success the relay
// assigns the connection an ephemeral peer id, returns the current peer list,
// and notifies the other peers in the room. From then on:
//
//   - operation frames are broadcast byte-for-byte to every other peer in the
//     room (never back to the sender)
//   - peermessage frames are delivered to exactly one recipient, or silently
//     dropped when the recipient is gone
//   - server frames are answered directly (currently only list-peers)
//
// When a connection closes, for any reason, the relay removes it from its
// room and broadcasts the updated peer list to the remaining members.
//
// # Quick start
//
//	import "github.com/mapsync-project/relay/ws"
//
//	cfg := ws.NewConfig("127.0.0.1:8012", secret, ws.DefaultRateLimitConfig(), ws.AllOrigins())
//	server := ws.New(cfg)
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Protocol format
//
// Frames are UTF-8 text containing a JSON object with a discriminator field
// "kind". Clients send join, operation, peermessage and server frames; the
// relay sends join-response and list-peers frames. Operation and peermessage
// frames are relayed exactly as received, so peers always see the sender's
// own serialization.
//
// # Capability tokens
//
// Tokens are HS256-signed and carry the subject identity, the target room and
// the granted permission set. A token is only valid for 30 seconds after
// issuance, independent of how long the connection then lives. A missing or
// expired token, a bad signature, or a permission set without "edit" closes
// the connection without any response payload.
//
// # Rate limiting
//
// Each peer has independent inbound rate limiting using a token bucket:
//
//	// Default: 100 messages/second, burst 200
//	cfg := ws.NewConfig(addr, secret, ws.DefaultRateLimitConfig(), ws.AllOrigins())
//
//	// Disabled
//	cfg := ws.NewConfig(addr, secret, ws.NoRateLimit(), ws.AllOrigins())
//
// When the limit is exceeded the peer is closed with code 1008 (policy
// violation).
//
// # Important
//
//   - One room per connection: a second join frame on the same connection is
//     a protocol error and the frame is dropped.
//   - Malformed frames never close a joined connection; they are logged and
//     discarded.
//   - Configure the origin check in production (never use ws.AllOrigins()).
package relay
