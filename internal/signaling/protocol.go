package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/wequil/signal-relay/internal/relay"
)

// Client message types. Relayed kinds reuse the engine's names so they pass
// through unchanged.
const (
	messageTypeAuth           = "auth"
	messageTypeJoin           = "join"
	messageTypeOffer          = relay.KindOffer
	messageTypeAnswer         = relay.KindAnswer
	messageTypeICECandidate   = relay.KindICECandidate
	messageTypeMetadataUpdate = relay.KindMetadataUpdate
	messageTypeDataRelay      = relay.KindDataRelay

	// Server-only message types.
	messageTypeWelcome    = "welcome"
	messageTypeRoster     = relay.KindRoster
	messageTypePeerJoined = relay.KindPeerJoined
	messageTypePeerLeft   = relay.KindPeerLeft
	messageTypeError      = "error"
)

// clientMessage is the single wire envelope for everything a client sends.
// Unknown fields are rejected: in particular a client cannot smuggle a
// senderId, which is always stamped server-side.
type clientMessage struct {
	Type string `json:"type"`

	// join
	RoomID   string            `json:"roomId,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// relayed kinds
	TargetID  string          `json:"targetId,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// metadata-update
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// auth
	APIKey string `json:"apiKey,omitempty"`
}

// metadataKV is the key/value pair a metadata-update carries, used both as the
// engine's opaque payload and to rebuild the sender's shape on the way out.
type metadataKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func parseClientMessage(data []byte, roomIDMaxLength int) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.validate(roomIDMaxLength); err != nil {
		return clientMessage{}, err
	}
	return msg, nil
}

func (m clientMessage) validate(roomIDMaxLength int) error {
	switch m.Type {
	case messageTypeAuth:
		if m.APIKey == "" {
			return fmt.Errorf("auth message missing apiKey")
		}
	case messageTypeJoin:
		if !validRoomID(m.RoomID, roomIDMaxLength) {
			return fmt.Errorf("invalid roomId (expected 1-%d chars of [a-zA-Z0-9-])", roomIDMaxLength)
		}
		if m.TargetID != "" || len(m.SDP) > 0 || len(m.Candidate) > 0 || len(m.Payload) > 0 {
			return fmt.Errorf("join message has unexpected fields")
		}
	case messageTypeOffer, messageTypeAnswer:
		if m.TargetID == "" {
			return fmt.Errorf("%s message missing targetId", m.Type)
		}
		if len(m.SDP) == 0 {
			return fmt.Errorf("%s message missing sdp", m.Type)
		}
	case messageTypeICECandidate:
		if m.TargetID == "" {
			return fmt.Errorf("ice-candidate message missing targetId")
		}
		if len(m.Candidate) == 0 {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
	case messageTypeMetadataUpdate:
		if m.Key == "" {
			return fmt.Errorf("metadata-update message missing key")
		}
	case messageTypeDataRelay:
		if m.TargetID == "" {
			return fmt.Errorf("data-relay message missing targetId")
		}
		if len(m.Payload) == 0 {
			return fmt.Errorf("data-relay message missing payload")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// validRoomID matches the channel id rules enforced by the browser clients:
// ASCII letters, digits and hyphens, length 1..maxLen.
func validRoomID(roomID string, maxLen int) bool {
	if len(roomID) == 0 || len(roomID) > maxLen {
		return false
	}
	for i := 0; i < len(roomID); i++ {
		c := roomID[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

// relayPayload picks the opaque content the engine forwards for a relayed
// message kind.
func relayPayload(m clientMessage) json.RawMessage {
	switch m.Type {
	case messageTypeOffer, messageTypeAnswer:
		return m.SDP
	case messageTypeICECandidate:
		return m.Candidate
	default:
		return m.Payload
	}
}

// metadataPayload rebuilds the key/value pair as the opaque payload for a
// targeted metadata-update.
func metadataPayload(m clientMessage) json.RawMessage {
	if m.TargetID == "" {
		return nil
	}
	data, err := json.Marshal(metadataKV{Key: m.Key, Value: m.Value})
	if err != nil {
		return nil
	}
	return data
}

// serverMessage is the wire envelope for everything the relay sends.
type serverMessage struct {
	Type string `json:"type"`

	ConnectionID string `json:"connectionId,omitempty"`

	SenderID string `json:"senderId,omitempty"`

	Peer  *relay.PeerInfo `json:"peer,omitempty"`
	Peers []relay.PeerInfo `json:"peers,omitempty"`

	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// encodeRelayMessage maps an engine message onto the wire envelope. Relayed
// payloads land in the field matching their kind so clients see the same
// shape they sent.
func encodeRelayMessage(msg relay.Message) ([]byte, error) {
	if msg.Kind == relay.KindRoster {
		// The peers list is always present on a roster, even when empty.
		roster := msg.Roster
		if roster == nil {
			roster = []relay.PeerInfo{}
		}
		return json.Marshal(struct {
			Type  string           `json:"type"`
			Peers []relay.PeerInfo `json:"peers"`
		}{Type: msg.Kind, Peers: roster})
	}

	if msg.Kind == relay.KindMetadataUpdate && len(msg.Payload) > 0 {
		// Targeted updates mirror the sender's shape: top-level key/value.
		var kv metadataKV
		if err := json.Unmarshal(msg.Payload, &kv); err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Type     string `json:"type"`
			SenderID string `json:"senderId"`
			Key      string `json:"key"`
			Value    string `json:"value"`
		}{Type: msg.Kind, SenderID: msg.SenderID, Key: kv.Key, Value: kv.Value})
	}

	out := serverMessage{
		Type:     msg.Kind,
		SenderID: msg.SenderID,
		Peer:     msg.Peer,
		Peers:    msg.Roster,
	}
	switch msg.Kind {
	case relay.KindOffer, relay.KindAnswer:
		out.SDP = msg.Payload
	case relay.KindICECandidate:
		out.Candidate = msg.Payload
	default:
		out.Payload = msg.Payload
	}
	return json.Marshal(out)
}

func encodeWelcome(connID string) ([]byte, error) {
	return json.Marshal(serverMessage{Type: messageTypeWelcome, ConnectionID: connID})
}

func encodeError(code relay.ErrorKind, message string) ([]byte, error) {
	return json.Marshal(serverMessage{Type: messageTypeError, Code: string(code), Message: message})
}
