// Package relay implements room-based peer discovery and signaling message
// routing. It owns no transport: connections register a Sender and feed
// decoded operations in; the engine fans results out to peer send queues.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/wequil/signal-relay/internal/metrics"
)

// Limits bounds room growth. Zero values mean unlimited.
type Limits struct {
	MaxPeersPerRoom int
	MaxRooms        int
}

// Engine serializes all mutating operations per room. A handler either
// completes fully or leaves no trace; errors go back to the originator only.
type Engine struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *Registry
	rooms    *Directory
	limits   Limits

	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func NewEngine(log *slog.Logger, m *metrics.Metrics, limits Limits) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:      log,
		metrics:  m,
		registry: NewRegistry(),
		rooms:    NewDirectory(),
		limits:   limits,
		locks:    make(map[string]*roomLock),
	}
}

// lockRoom acquires the room's mutex, creating it on demand. The returned
// func releases the mutex and drops the lock entry once unreferenced.
func (e *Engine) lockRoom(roomID string) func() {
	e.mu.Lock()
	l := e.locks[roomID]
	if l == nil {
		l = &roomLock{}
		e.locks[roomID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, roomID)
		}
		e.mu.Unlock()
	}
}

// Register admits a new connection and returns its record. The caller owns
// the Sender's lifecycle and must call Disconnect exactly when the transport
// goes away (calling it more than once is safe).
func (e *Engine) Register(sender Sender) *Conn {
	conn := e.registry.Register(sender)
	e.metrics.Inc(metrics.ConnectionsOpened)
	e.log.Debug("connection registered", "connId", conn.ID)
	return conn
}

// Join places the connection into a room and delivers the pre-join roster to
// it, then announces it to the existing members. A connection joins at most
// one room for its lifetime.
func (e *Engine) Join(connID, roomID string, metadata map[string]string) *Error {
	if err := e.checkJoinable(connID); err != nil {
		return err
	}

	unlock := e.lockRoom(roomID)
	defer unlock()

	// Re-check under the room lock; the connection may have joined or gone
	// away between the cheap check and lock acquisition.
	if err := e.checkJoinable(connID); err != nil {
		return err
	}

	size := e.rooms.Size(roomID)
	if size == 0 && e.limits.MaxRooms > 0 && e.rooms.Len() >= e.limits.MaxRooms {
		e.metrics.Inc(metrics.ErrorTooManyRooms)
		return newError(ErrTooManyRooms, "room limit reached (%d)", e.limits.MaxRooms)
	}
	if e.limits.MaxPeersPerRoom > 0 && size >= e.limits.MaxPeersPerRoom {
		e.metrics.Inc(metrics.ErrorRoomFull)
		return newError(ErrRoomFull, "room %q is full (%d peers)", roomID, e.limits.MaxPeersPerRoom)
	}

	roster := e.rosterSnapshot(roomID)

	created := e.rooms.Join(roomID, connID)
	if !e.registry.SetRoom(connID, roomID, metadata) {
		// Connection unregistered mid-join. Roll the membership back.
		e.rooms.Leave(roomID, connID)
		e.metrics.Inc(metrics.ErrorUnknownConnection)
		return newError(ErrUnknownConnection, "connection %q is gone", connID)
	}

	// Dropped enqueues are counted by the Sender; the transport owns the
	// queue and its teardown.
	if sender, ok := e.registry.Sender(connID); ok {
		if sender.Enqueue(Message{Kind: KindRoster, Roster: roster}) {
			e.metrics.Inc(metrics.BroadcastDeliveries)
		}
	}

	info, _ := e.registry.PeerInfo(connID)
	e.broadcast(roomID, Message{Kind: KindPeerJoined, Peer: &info}, connID)

	e.metrics.Inc(metrics.PeersJoined)
	if created {
		e.metrics.Inc(metrics.RoomsCreated)
		e.log.Info("room created", "roomId", roomID)
	}
	e.log.Debug("peer joined", "connId", connID, "roomId", roomID, "roomSize", size+1)
	return nil
}

// checkJoinable rejects joins from unknown or already-joined connections. Any
// second join attempt is DuplicateJoin, including a re-join of the same room.
func (e *Engine) checkJoinable(connID string) *Error {
	current, ok := e.registry.Room(connID)
	switch {
	case !ok:
		e.metrics.Inc(metrics.ErrorUnknownConnection)
		return newError(ErrUnknownConnection, "unknown connection %q", connID)
	case current != "":
		e.metrics.Inc(metrics.ErrorDuplicateJoin)
		return newError(ErrDuplicateJoin, "already joined room %q", current)
	}
	return nil
}

// Relay forwards an opaque payload to a single peer in the sender's room. The
// sender id is stamped server-side.
func (e *Engine) Relay(connID, kind, targetID string, payload json.RawMessage) *Error {
	roomID, ok := e.registry.Room(connID)
	if !ok {
		e.metrics.Inc(metrics.ErrorUnknownConnection)
		return newError(ErrUnknownConnection, "unknown connection %q", connID)
	}
	if roomID == "" {
		e.metrics.Inc(metrics.ErrorNotJoined)
		return newError(ErrNotJoined, "join a room before sending %s", kind)
	}

	unlock := e.lockRoom(roomID)
	defer unlock()

	if !e.rooms.Contains(roomID, targetID) {
		e.metrics.Inc(metrics.ErrorTargetNotFound)
		return newError(ErrTargetNotFound, "no peer %q in room", targetID)
	}
	sender, ok := e.registry.Sender(targetID)
	if !ok {
		e.metrics.Inc(metrics.ErrorTargetNotFound)
		return newError(ErrTargetNotFound, "no peer %q in room", targetID)
	}

	if sender.Enqueue(Message{Kind: kind, SenderID: connID, Payload: payload}) {
		e.metrics.Inc(metrics.MessagesRelayed)
	}
	return nil
}

// UpdateMetadata merges a key/value pair into the connection's metadata and
// announces the change to the room. Targeted updates (targetID != "") are
// routed point-to-point like any other relayed message instead.
func (e *Engine) UpdateMetadata(connID, targetID, key, value string, payload json.RawMessage) *Error {
	if targetID != "" {
		return e.Relay(connID, KindMetadataUpdate, targetID, payload)
	}

	roomID, ok := e.registry.Room(connID)
	if !ok {
		e.metrics.Inc(metrics.ErrorUnknownConnection)
		return newError(ErrUnknownConnection, "unknown connection %q", connID)
	}
	if roomID == "" {
		e.metrics.Inc(metrics.ErrorNotJoined)
		return newError(ErrNotJoined, "join a room before updating metadata")
	}

	unlock := e.lockRoom(roomID)
	defer unlock()

	info, ok := e.registry.SetMetadataKey(connID, key, value)
	if !ok {
		e.metrics.Inc(metrics.ErrorUnknownConnection)
		return newError(ErrUnknownConnection, "connection %q is gone", connID)
	}

	e.broadcast(roomID, Message{Kind: KindMetadataUpdate, SenderID: connID, Peer: &info}, connID)
	return nil
}

// Disconnect removes the connection, leaves its room and announces the
// departure. Idempotent: repeated calls after the first are no-ops.
func (e *Engine) Disconnect(connID string) {
	roomID, ok := e.registry.Unregister(connID)
	if !ok {
		return
	}
	e.metrics.Inc(metrics.ConnectionsClosed)

	if roomID == "" {
		e.log.Debug("connection closed", "connId", connID)
		return
	}

	unlock := e.lockRoom(roomID)
	destroyed := e.rooms.Leave(roomID, connID)
	if !destroyed {
		e.broadcast(roomID, Message{Kind: KindPeerLeft, Peer: &PeerInfo{ID: connID}}, connID)
	}
	unlock()

	e.metrics.Inc(metrics.PeersLeft)
	if destroyed {
		e.metrics.Inc(metrics.RoomsDestroyed)
		e.log.Info("room destroyed", "roomId", roomID)
	}
	e.log.Debug("peer left", "connId", connID, "roomId", roomID)
}

// rosterSnapshot builds the roster of current members. Members whose
// connection vanished between directory and registry lookups are skipped.
func (e *Engine) rosterSnapshot(roomID string) []PeerInfo {
	members := e.rooms.Members(roomID)
	roster := make([]PeerInfo, 0, len(members))
	for _, id := range members {
		if info, ok := e.registry.PeerInfo(id); ok {
			roster = append(roster, info)
		}
	}
	return roster
}

// broadcast delivers msg to every room member except exclude. Callers must
// hold the room lock so the member set cannot change mid-broadcast.
func (e *Engine) broadcast(roomID string, msg Message, exclude string) {
	for _, id := range e.rooms.Members(roomID) {
		if id == exclude {
			continue
		}
		sender, ok := e.registry.Sender(id)
		if !ok {
			continue
		}
		if sender.Enqueue(msg) {
			e.metrics.Inc(metrics.BroadcastDeliveries)
		}
	}
}

// Stats is a point-in-time gauge snapshot for logs and readiness output.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Connections: e.registry.Len(),
		Rooms:       e.rooms.Len(),
	}
}
