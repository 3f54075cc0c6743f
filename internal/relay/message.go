package relay

import "encoding/json"

// Message kinds delivered to peers. Relayed kinds (offer, answer,
// ice-candidate, data-relay, metadata-update) pass through with the payload
// untouched; the relay only stamps the sender id.
const (
	KindRoster         = "roster"
	KindPeerJoined     = "peer-joined"
	KindPeerLeft       = "peer-left"
	KindOffer          = "offer"
	KindAnswer         = "answer"
	KindICECandidate   = "ice-candidate"
	KindMetadataUpdate = "metadata-update"
	KindDataRelay      = "data-relay"
)

// PeerInfo is the roster entry for a room member.
type PeerInfo struct {
	ID       string            `json:"peerId"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Message is the envelope delivered to a peer's send queue. SenderID is always
// stamped by the relay; any sender id a client supplies on the wire is
// discarded before the message reaches the engine.
type Message struct {
	Kind     string          `json:"type"`
	SenderID string          `json:"senderId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Peer     *PeerInfo       `json:"peer,omitempty"`
	Roster   []PeerInfo      `json:"peers,omitempty"`
}

// Sender is the outbound half of a connection. Enqueue must not block: it
// reports false when the send queue is full or the connection is closed, and
// the transport is expected to tear the connection down in that case.
type Sender interface {
	Enqueue(msg Message) bool
}
