package metrics

import "sync"

// Event names incremented by the relay. Names are intentionally simple; they
// surface as the `event` label on the Prometheus counter.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"
	RoomsCreated      = "rooms_created"
	RoomsDestroyed    = "rooms_destroyed"
	PeersJoined       = "peers_joined"
	PeersLeft         = "peers_left"

	MessagesRelayed     = "messages_relayed"
	BroadcastDeliveries = "broadcast_deliveries"
	SendQueueDrops      = "send_queue_drops"

	ErrorDuplicateJoin     = "error_duplicate_join"
	ErrorNotJoined         = "error_not_joined"
	ErrorUnknownConnection = "error_unknown_connection"
	ErrorTargetNotFound    = "error_target_not_found"
	ErrorMalformedMessage  = "error_malformed_message"
	ErrorRoomFull          = "error_room_full"
	ErrorTooManyRooms      = "error_too_many_rooms"

	AuthFailure     = "auth_failure"
	DropRateLimited = "drop_rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to plug into a real metrics backend eventually; this
// type keeps the signaling and lifecycle logic testable in the meantime.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
