package relay

import (
	"sync"

	"github.com/google/uuid"
)

// Conn is the registry's record of a live signaling connection. Fields other
// than ID and sender are guarded by the owning Registry's mutex; read them
// through Registry accessors.
type Conn struct {
	ID     string
	sender Sender

	roomID   string
	metadata map[string]string
}

// Registry tracks every registered connection by id. Individual operations
// are atomic; cross-connection sequencing is the Engine's job.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Register allocates a fresh connection id and records the connection.
func (r *Registry) Register(sender Sender) *Conn {
	conn := &Conn{
		ID:     uuid.NewString(),
		sender: sender,
	}
	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()
	return conn
}

// Unregister removes the connection and reports whether it was present along
// with the room it occupied. Safe to call repeatedly.
func (r *Registry) Unregister(id string) (roomID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return "", false
	}
	delete(r.conns, id)
	return conn.roomID, true
}

func (r *Registry) Sender(id string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return conn.sender, true
}

// Room returns the room the connection has joined ("" if none) and whether the
// connection exists.
func (r *Registry) Room(id string) (roomID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return "", false
	}
	return conn.roomID, true
}

// SetRoom binds the connection to a room and stores its join metadata.
func (r *Registry) SetRoom(id, roomID string, metadata map[string]string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	conn.roomID = roomID
	if len(metadata) > 0 {
		conn.metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			conn.metadata[k] = v
		}
	} else {
		conn.metadata = nil
	}
	return true
}

// SetMetadataKey merges a single key into the connection's metadata and
// returns the updated peer info.
func (r *Registry) SetMetadataKey(id, key, value string) (PeerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return PeerInfo{}, false
	}
	if conn.metadata == nil {
		conn.metadata = make(map[string]string, 1)
	}
	conn.metadata[key] = value
	return peerInfoLocked(conn), true
}

// PeerInfo returns a snapshot of the connection's id and metadata.
func (r *Registry) PeerInfo(id string) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return PeerInfo{}, false
	}
	return peerInfoLocked(conn), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func peerInfoLocked(conn *Conn) PeerInfo {
	info := PeerInfo{ID: conn.ID}
	if len(conn.metadata) > 0 {
		info.Metadata = make(map[string]string, len(conn.metadata))
		for k, v := range conn.metadata {
			info.Metadata[k] = v
		}
	}
	return info
}
