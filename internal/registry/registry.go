// Package registry tracks room membership for the relay process.
//
// The registry is process-wide shared state: it is constructed once at
// startup and torn down at shutdown. Locking is two-level so unrelated rooms
// never contend: the registry mutex guards only the room table, and each room
// serializes its own membership operations behind its own mutex.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mapsync-project/relay"
)

// Registry is the process-wide room table.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Join registers the peer in the room named by roomID, creating the room on
// first join. It returns the room and the freshly assigned peer id.
func (r *Registry) Join(roomID string, peer relay.Peer) (*Room, string) {
	for {
		r.mu.Lock()
		room, ok := r.rooms[roomID]
		if !ok {
			room = &Room{id: roomID, peers: make(map[string]relay.Peer)}
			r.rooms[roomID] = room
		}
		r.mu.Unlock()

		if id, ok := room.join(peer); ok {
			return room, id
		}
		// Lost a race against the room's eviction; the next pass creates
		// a fresh room record.
	}
}

// Leave removes the peer id from its room and drops the room from the table
// once its last peer is gone. A later join recreates the room, so room ids
// stay addressable forever.
func (r *Registry) Leave(room *Room, id string) {
	room.leave(id)

	r.mu.Lock()
	defer r.mu.Unlock()
	room.mu.Lock()
	defer room.mu.Unlock()
	if len(room.peers) == 0 && !room.evicted {
		room.evicted = true
		if r.rooms[room.id] == room {
			delete(r.rooms, room.id)
		}
	}
}

// Stats reports the number of live rooms and joined peers.
func (r *Registry) Stats() (rooms, peers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms = len(r.rooms)
	for _, room := range r.rooms {
		peers += room.Len()
	}
	return rooms, peers
}

// Room holds the peers currently joined under one room id. All membership
// reads return snapshots, so a peer disconnecting mid-broadcast can never
// corrupt an iteration.
type Room struct {
	id      string
	mu      sync.RWMutex
	peers   map[string]relay.Peer
	evicted bool
}

// ID returns the externally defined room id.
func (rm *Room) ID() string { return rm.id }

func (rm *Room) join(peer relay.Peer) (string, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.evicted {
		return "", false
	}

	id := uuid.NewString()
	for {
		if _, taken := rm.peers[id]; !taken {
			break
		}
		id = uuid.NewString()
	}
	rm.peers[id] = peer
	return id, true
}

func (rm *Room) leave(id string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.peers, id)
}

// Resolve returns the peer currently holding the given id.
func (rm *Room) Resolve(id string) (relay.Peer, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	peer, ok := rm.peers[id]
	return peer, ok
}

// Others returns a snapshot of every joined peer except the one holding the
// given id.
func (rm *Room) Others(id string) []relay.Peer {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	others := make([]relay.Peer, 0, len(rm.peers))
	for peerID, peer := range rm.peers {
		if peerID == id {
			continue
		}
		others = append(others, peer)
	}
	return others
}

// PeerIDs returns a snapshot of the ids currently joined.
func (rm *Room) PeerIDs() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	ids := make([]string, 0, len(rm.peers))
	for id := range rm.peers {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of joined peers.
func (rm *Room) Len() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.peers)
}
