package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mapsync-project/relay"
)

// ErrProtocol is wrapped by every parse failure. Callers use
// errors.Is(err, ErrProtocol) to tell a malformed frame from transport
// errors.
var ErrProtocol = errors.New("protocol error")

// Kind discriminates the closed set of wire frames. Anything outside this
// enumeration is rejected at parse time.
type Kind string

const (
	KindJoin         Kind = "join"
	KindOperation    Kind = "operation"
	KindPeerMessage  Kind = "peermessage"
	KindServer       Kind = "server"
	KindJoinResponse Kind = "join-response"
	KindListPeers    Kind = "list-peers"
)

// ActionListPeers is the only server action currently defined.
const ActionListPeers = "list-peers"

var (
	validVerbs    = map[string]bool{"upsert": true, "update": true, "delete": true}
	validSubjects = map[string]bool{"map": true, "layer": true, "feature": true}
)

// Message is one parsed client frame. The concrete type is one of
// *JoinRequest, *OperationMessage, *PeerMessage or *ServerRequest.
type Message interface {
	Kind() Kind
}

// JoinRequest is the first frame of every connection. It carries the signed
// capability token issued by the upstream application.
type JoinRequest struct {
	Token string `json:"token"`
}

func (*JoinRequest) Kind() Kind { return KindJoin }

// OperationMessage is an edit notification relayed verbatim from one peer to
// all the others in its room. The relay validates the shape but never
// inspects or rewrites the content.
type OperationMessage struct {
	Verb     string         `json:"verb"`
	Subject  string         `json:"subject"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Key      string         `json:"key,omitempty"`

	raw []byte
}

func (*OperationMessage) Kind() Kind { return KindOperation }

// Raw returns the original frame bytes. Broadcasts send these unmodified so
// recipients see the sender's own serialization byte for byte.
func (m *OperationMessage) Raw() []byte { return m.raw }

// PeerMessage is an opaque payload addressed from one peer to exactly one
// other peer in the same room.
type PeerMessage struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Message   json.RawMessage `json:"message"`

	raw []byte
}

func (*PeerMessage) Kind() Kind { return KindPeerMessage }

// Raw returns the original frame bytes for verbatim delivery.
func (m *PeerMessage) Raw() []byte { return m.raw }

// ServerRequest is a request addressed to the relay itself.
type ServerRequest struct {
	Action string `json:"action"`
}

func (*ServerRequest) Kind() Kind { return KindServer }

// JoinResponse is sent to a peer whose join was accepted. Peers holds the
// ids that were already present when the join was accepted; the new peer's
// own id arrives separately in UUID.
type JoinResponse struct {
	Kind  Kind     `json:"kind"`
	UUID  string   `json:"uuid"`
	Peers []string `json:"peers"`
}

// ListPeersResponse carries the current peer id list of a room. It is
// broadcast whenever the membership changes and returned for the list-peers
// server action.
type ListPeersResponse struct {
	Kind  Kind     `json:"kind"`
	Peers []string `json:"peers"`
}

// EncodeJoinResponse builds and marshals a join-response frame.
func EncodeJoinResponse(uuid string, peers []string) ([]byte, error) {
	if peers == nil {
		peers = []string{}
	}
	return json.Marshal(JoinResponse{Kind: KindJoinResponse, UUID: uuid, Peers: peers})
}

// EncodeListPeers builds and marshals a list-peers frame.
func EncodeListPeers(peers []string) ([]byte, error) {
	if peers == nil {
		peers = []string{}
	}
	return json.Marshal(ListPeersResponse{Kind: KindListPeers, Peers: peers})
}

// Parse validates a raw client frame and returns the typed variant. The raw
// bytes of operation and peermessage frames are retained as received; do not
// modify the slice after handing it to Parse.
func Parse(raw []byte) (Message, error) {
	var envelope struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, relay.ErrInvalidFrame, err)
	}

	switch envelope.Kind {
	case KindJoin:
		var m JoinRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, relay.ErrInvalidFrame, err)
		}
		if m.Token == "" {
			return nil, fmt.Errorf("%w: %s: token", ErrProtocol, relay.ErrMissingField)
		}
		return &m, nil

	case KindOperation:
		var m OperationMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, relay.ErrInvalidFrame, err)
		}
		if !validVerbs[m.Verb] {
			return nil, fmt.Errorf("%w: %s: %q", ErrProtocol, relay.ErrUnknownVerb, m.Verb)
		}
		if !validSubjects[m.Subject] {
			return nil, fmt.Errorf("%w: %s: %q", ErrProtocol, relay.ErrUnknownSubject, m.Subject)
		}
		m.raw = raw
		return &m, nil

	case KindPeerMessage:
		var m PeerMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, relay.ErrInvalidFrame, err)
		}
		if m.Sender == "" {
			return nil, fmt.Errorf("%w: %s: sender", ErrProtocol, relay.ErrMissingField)
		}
		if m.Recipient == "" {
			return nil, fmt.Errorf("%w: %s: recipient", ErrProtocol, relay.ErrMissingField)
		}
		m.raw = raw
		return &m, nil

	case KindServer:
		var m ServerRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, relay.ErrInvalidFrame, err)
		}
		if m.Action != ActionListPeers {
			return nil, fmt.Errorf("%w: %s: %q", ErrProtocol, relay.ErrUnknownAction, m.Action)
		}
		return &m, nil

	case KindJoinResponse, KindListPeers:
		// Server-to-client kinds are never valid coming in.
		return nil, fmt.Errorf("%w: %s: %q", ErrProtocol, relay.ErrReservedKind, envelope.Kind)

	default:
		return nil, fmt.Errorf("%w: %s: %q", ErrProtocol, relay.ErrUnknownKind, envelope.Kind)
	}
}
