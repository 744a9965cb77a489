package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mapsync-project/relay"
	"github.com/mapsync-project/relay/internal/engine"
	"github.com/mapsync-project/relay/internal/protocol"
	"github.com/mapsync-project/relay/internal/registry"
	"github.com/mapsync-project/relay/internal/token"
)

// CheckOriginFn validates the origin of a websocket handshake. It receives
// the HTTP request and returns true if the origin is allowed.
type CheckOriginFn = func(r *http.Request) bool

// ServerConfig configures the relay server.
type ServerConfig struct {
	// Addr is the host:port the relay binds to.
	Addr string

	// Secret is the key shared with the upstream application that signs
	// capability tokens.
	Secret []byte

	RateLimitConfig *RateLimitConfig
	CheckOrigin     CheckOriginFn

	// JoinTimeout bounds how long a fresh connection may take to present
	// its join frame. Defaults to 10 seconds.
	JoinTimeout time.Duration

	// MaxMessageSize caps inbound frames in bytes. Defaults to 1MB.
	MaxMessageSize int64

	// Logger receives the relay's structured logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

const (
	defaultJoinTimeout    = 10 * time.Second
	defaultMaxMessageSize = 1 << 20
)

// Server is the relay: it accepts websocket connections and runs one
// lifecycle handler per connection.
type Server struct {
	addr            string
	server          *http.Server
	peers           sync.Map // map[*Peer]struct{}
	registry        *registry.Registry
	verifier        *token.Verifier
	engine          *engine.Engine
	rateLimitConfig *RateLimitConfig
	joinTimeout     time.Duration
	maxMessageSize  int64
	log             *slog.Logger

	mu       sync.RWMutex
	running  bool
	upgrader websocket.Upgrader
}

// New creates a relay server. Zero fields of the config get defaults; the
// secret is the only field without one.
func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:            cfg.Addr,
		registry:        registry.New(),
		verifier:        token.NewVerifier(cfg.Secret),
		engine:          engine.New(log),
		rateLimitConfig: cfg.RateLimitConfig,
		joinTimeout:     cfg.JoinTimeout,
		maxMessageSize:  cfg.MaxMessageSize,
		log:             log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Handler returns the relay's HTTP handler: /ws for the websocket endpoint,
// /health and /stats as plain JSON endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// Start starts the relay and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(relay.ErrServerRunning)
	}
	s.running = true
	s.mu.Unlock()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Check for immediate startup errors with a small timeout
	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.log.Info("relay listening", "addr", s.addr)
		return nil
	}
}

// Stop gracefully stops the relay and closes all peer connections.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.peers.Range(func(key, _ any) bool {
		if peer, ok := key.(*Peer); ok {
			peer.Close(ctx)
		}
		return true
	})

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Stats reports the number of live rooms and joined peers.
func (s *Server) Stats() (rooms, peers int) {
	return s.registry.Stats()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	rooms, peers := s.registry.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"rooms": rooms, "peers": peers})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	peer := NewPeer(conn, r.RemoteAddr, s.rateLimitConfig)
	s.peers.Store(peer, struct{}{})

	go s.handlePeer(peer)
}

// handlePeer runs one connection through its lifecycle: a single join frame,
// the message loop, then teardown.
func (s *Server) handlePeer(peer *Peer) {
	defer func() {
		s.peers.Delete(peer)
		peer.Close(context.Background())
	}()

	peer.conn.SetReadLimit(s.maxMessageSize)

	claims, ok := s.awaitJoin(peer)
	if !ok {
		// Rejected joins close without any response payload.
		peer.abort()
		return
	}

	room, id := s.registry.Join(claims.Room, peer)
	peer.setID(id)
	s.log.Info("peer joined", "room", room.ID(), "peer", id, "user", claims.Subject)

	// The joiner gets its id and the peers that were already present;
	// everyone else gets the updated full list.
	others := make([]string, 0)
	for _, peerID := range room.PeerIDs() {
		if peerID != id {
			others = append(others, peerID)
		}
	}
	frame, err := protocol.EncodeJoinResponse(id, others)
	if err == nil {
		err = peer.Send(peer.Context(), frame)
	}
	if err != nil {
		s.log.Warn("join response not delivered", "room", room.ID(), "peer", id, "error", err)
	}
	s.engine.Announce(peer.Context(), room, id)

	defer func() {
		// Teardown runs exactly once, whatever ended the loop.
		s.registry.Leave(room, id)
		s.engine.Announce(context.Background(), room, id)
		s.log.Info("peer left", "room", room.ID(), "peer", id)
	}()

	s.readLoop(peer, id, room)
}

// awaitJoin reads and validates the mandatory first frame. Any outcome other
// than a fresh, edit-capable token is a rejection.
func (s *Server) awaitJoin(peer *Peer) (*token.Claims, bool) {
	peer.conn.SetReadDeadline(time.Now().Add(s.joinTimeout))

	_, raw, err := peer.conn.ReadMessage()
	if err != nil {
		s.log.Warn("connection closed before join", "remote", peer.RemoteAddr(), "error", err)
		return nil, false
	}

	msg, err := protocol.Parse(raw)
	if err != nil {
		s.log.Warn("rejecting connection: bad first frame", "remote", peer.RemoteAddr(), "error", err)
		return nil, false
	}
	join, ok := msg.(*protocol.JoinRequest)
	if !ok {
		s.log.Warn("rejecting connection: "+relay.ErrFirstFrameJoin, "remote", peer.RemoteAddr(), "kind", msg.Kind())
		return nil, false
	}

	claims, err := s.verifier.Verify(join.Token)
	if err != nil {
		s.log.Warn("rejecting join: bad token", "remote", peer.RemoteAddr(), "error", err)
		return nil, false
	}
	if !claims.CanEdit() {
		s.log.Warn("rejecting join: edit permission not granted", "remote", peer.RemoteAddr(), "user", claims.Subject)
		return nil, false
	}
	return claims, true
}

// readLoop is the Joined state: frames are parsed and dispatched until the
// transport disconnects or errors. A malformed frame is dropped, never fatal.
func (s *Server) readLoop(peer *Peer, id string, room *registry.Room) {
	peer.conn.SetReadDeadline(time.Now().Add(pongWait))
	peer.conn.SetPongHandler(func(string) error {
		peer.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-peer.Context().Done():
			return
		default:
			_, raw, err := peer.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.log.Warn("read error", "room", room.ID(), "peer", id, "error", err)
				}
				return
			}

			// Reset read deadline after successful read
			peer.conn.SetReadDeadline(time.Now().Add(pongWait))

			if !peer.allow() {
				s.log.Warn("rate limit exceeded", "room", room.ID(), "peer", id, "remote", peer.RemoteAddr())
				peer.CloseWithCode(context.Background(), websocket.ClosePolicyViolation, "rate limit exceeded")
				return
			}

			msg, err := protocol.Parse(raw)
			if err != nil {
				// Malformed frames are dropped; the connection stays
				// joined.
				s.log.Warn("dropping malformed frame", "room", room.ID(), "peer", id, "error", err)
				continue
			}
			if msg.Kind() == protocol.KindJoin {
				s.log.Warn(fmt.Sprintf("dropping join frame: %s", relay.ErrAlreadyJoined), "room", room.ID(), "peer", id)
				continue
			}

			s.engine.Dispatch(peer.Context(), msg, id, peer, room)
		}
	}
}
