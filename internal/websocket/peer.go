package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mapsync-project/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// RateLimitConfig defines per-peer inbound rate limiting.
type RateLimitConfig struct {
	// MessagesPerSecond defines how many frames a peer may send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration:
// 100 frames per second with a burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Peer implements relay.Peer on top of a gorilla websocket connection.
type Peer struct {
	conn        *websocket.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	mu          sync.RWMutex
	id          string
	closed      bool
	rateLimiter *rate.Limiter
}

// NewPeer wraps an accepted connection. The peer id stays empty until the
// join handshake assigns one.
func NewPeer(conn *websocket.Conn, remoteAddr string, rateLimitConfig *RateLimitConfig) *Peer {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if rateLimitConfig != nil && rateLimitConfig.Enabled {
		limiter = rate.NewLimiter(rateLimitConfig.MessagesPerSecond, rateLimitConfig.Burst)
	}

	peer := &Peer{
		conn:        conn,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, sendBufferSize),
		rateLimiter: limiter,
	}

	// Start the write pump
	go peer.writePump()

	return peer
}

// ID returns the ephemeral peer id assigned at join time.
func (p *Peer) ID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

func (p *Peer) setID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
}

// RemoteAddr returns the peer's remote network address.
func (p *Peer) RemoteAddr() string {
	return p.remoteAddr
}

// Context returns the peer's lifecycle context.
func (p *Peer) Context() context.Context {
	return p.ctx
}

// Send queues one text frame for delivery. Best effort: a full send buffer
// drops the frame with an error, and a closed peer always errors.
func (p *Peer) Send(ctx context.Context, frame []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.New(relay.ErrConnectionClosed)
	}

	select {
	case p.sendCh <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return errors.New(relay.ErrContextCancelled)
	default:
		return errors.New(relay.ErrSendBufferFull)
	}
}

// Close closes the connection with a normal closure code.
func (p *Peer) Close(ctx context.Context) error {
	return p.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a close code and optional reason.
func (p *Peer) CloseWithCode(ctx context.Context, code int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.cancel()

	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	p.conn.WriteControl(websocket.CloseMessage, message, deadline)

	close(p.sendCh)
	return p.conn.Close()
}

// abort tears the connection down without a close handshake. Rejected joins
// end this way: the client observes an abnormal closure and never receives
// any payload.
func (p *Peer) abort() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	p.cancel()
	close(p.sendCh)
	p.conn.Close()
}

// IsAlive returns true if the connection is still open.
func (p *Peer) IsAlive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// allow reports whether the next inbound frame fits the rate limit.
func (p *Peer) allow() bool {
	if p.rateLimiter == nil {
		// Rate limiting disabled
		return true
	}
	return p.rateLimiter.Allow()
}

// writePump pumps frames from the send channel to the websocket connection.
func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.sendCh:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.ctx.Done():
			return
		}
	}
}
