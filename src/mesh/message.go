package mesh

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/fieldmesh/fieldmesh/src/clock"
	"github.com/fieldmesh/fieldmesh/src/crypto"
	"github.com/ugorji/go/codec"
)

// Signer produces an encoded signature over data.
type Signer interface {
	Sign(data []byte) (string, error)
}

// Verifier checks a signature against the registered public key of a node.
type Verifier interface {
	Verify(sender uint32, data []byte, sig string) bool
}

// DefaultTTL is the hop budget given to new messages.
const DefaultTTL = 3

// Type tags the kind of traffic a message carries. It drives the offline
// queue priority and can carry type-specific validation later.
type Type uint8

const (
	// Chat is free-form traffic between operators.
	Chat Type = iota
	// Command is an order from a superior node.
	Command
	// Alert is highest-priority tactical traffic.
	Alert
	// Status is a routine situation report.
	Status
)

// String returns the string representation of a message Type.
func (t Type) String() string {
	switch t {
	case Chat:
		return "CHAT"
	case Command:
		return "COMMAND"
	case Alert:
		return "ALERT"
	case Status:
		return "STATUS"
	default:
		return "Unknown"
	}
}

// Priority returns the queue priority of the type; lower is more urgent.
// ALERT > COMMAND > STATUS > CHAT.
func (t Type) Priority() int {
	switch t {
	case Alert:
		return 0
	case Command:
		return 1
	case Status:
		return 2
	default:
		return 3
	}
}

// Message is the wire record flooded between nodes. It is immutable once
// created except for the routing fields TTL and Route, which each hop
// updates.
type Message struct {
	ID      string
	Sender  uint32
	Target  uint32 // 0 means broadcast
	Type    Type
	Payload []byte
	Lamport int
	Vector  clock.VectorClock
	TTL     int
	Route   []uint32

	// Signature is the sender's signature over the message's stable fields.
	// It is created once and carried unchanged through every hop.
	Signature string
}

// NewMessage assembles a message stamped with the given clocks. The route
// starts with the sender itself.
func NewMessage(sender, target uint32, mtype Type, payload []byte, lamport int, vector clock.VectorClock, ttl int) *Message {
	return &Message{
		ID:      GenerateID(),
		Sender:  sender,
		Target:  target,
		Type:    mtype,
		Payload: payload,
		Lamport: lamport,
		Vector:  vector,
		TTL:     ttl,
		Route:   []uint32{sender},
	}
}

// GenerateID returns a random UUID-shaped message ID. Callers that need to
// know the ID before the message is assembled, such as the node's Submit
// path, generate it here and pass it down.
func GenerateID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// Routed reports whether the given node already appears in the route.
func (m *Message) Routed(nodeID uint32) bool {
	for _, id := range m.Route {
		if id == nodeID {
			return true
		}
	}
	return false
}

// Hop returns a copy of the message with the TTL decremented. Forwarding
// works on copies so that concurrent sends to different peers never share
// mutable routing state.
func (m *Message) Hop() *Message {
	res := *m
	res.TTL = m.TTL - 1
	res.Route = append([]uint32{}, m.Route...)
	return &res
}

// Broadcast reports whether the message is addressed to every node.
func (m *Message) Broadcast() bool {
	return m.Target == 0
}

// SignBytes returns the canonical encoding of the message's stable fields.
// TTL and Route mutate at every hop and the signature itself cannot cover
// itself, so all three are zeroed; what remains is identical at every node
// that witnesses the message.
func (m *Message) SignBytes() ([]byte, error) {
	stable := *m
	stable.TTL = 0
	stable.Route = nil
	stable.Signature = ""
	return stable.Marshal()
}

// Sign attaches the sender's signature to the message.
func (m *Message) Sign(signer Signer) error {
	signBytes, err := m.SignBytes()
	if err != nil {
		return err
	}

	sig, err := signer.Sign(crypto.SHA256(signBytes))
	if err != nil {
		return err
	}

	m.Signature = sig

	return nil
}

// Verify checks the message's signature against its declared sender.
func (m *Message) Verify(verifier Verifier) (bool, error) {
	signBytes, err := m.SignBytes()
	if err != nil {
		return false, err
	}

	return verifier.Verify(m.Sender, crypto.SHA256(signBytes), m.Signature), nil
}

// Marshal encodes the message with canonical JSON for the wire.
func (m *Message) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes a message produced by Marshal.
func (m *Message) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(m)
}
