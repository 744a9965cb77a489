package relay

// Standard error messages
const (
	// Protocol errors
	ErrInvalidFrame    = "invalid frame"
	ErrUnknownKind     = "unknown message kind"
	ErrMissingField    = "missing required field"
	ErrFirstFrameJoin  = "first frame must be a join request"
	ErrAlreadyJoined   = "connection already joined a room"
	ErrUnknownAction   = "unknown server action"
	ErrUnknownVerb     = "unknown operation verb"
	ErrUnknownSubject  = "unknown operation subject"
	ErrReservedKind    = "kind is reserved for server responses"

	// Connection errors
	ErrPeerNotFound     = "peer not found"
	ErrConnectionClosed = "peer connection is closed"
	ErrContextCancelled = "peer context cancelled"
	ErrSendBufferFull   = "peer send buffer full"
	ErrServerRunning    = "server already running"
)
