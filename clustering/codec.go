package clustering

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-msgpack/codec"

	"github.com/maxpoletaev/clusteragent/membership"
)

var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrInvalidID   = errors.New("invalid message id")
)

// envelope is the wire representation of a message. The header is carried
// separately from the body so that the body only contains the exported fields
// of the concrete type.
type envelope struct {
	Kind      string
	ID        []byte
	CreatedAt int64
	Sender    string
	Body      []byte
}

// Registry maps message kinds to the constructors of their concrete types.
type Registry struct {
	mut       sync.RWMutex
	factories map[string]func() Message
	handle    *codec.MsgpackHandle
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func() Message),
		handle:    &codec.MsgpackHandle{},
	}
}

// Register adds a message type. The factory must return a pointer to a new zero
// value of the type, such as func() Message { return &MyMessage{} }.
func (r *Registry) Register(kind string, factory func() Message) {
	r.mut.Lock()
	defer r.mut.Unlock()

	r.factories[kind] = factory
}

func (r *Registry) factory(kind string) (func() Message, bool) {
	r.mut.RLock()
	defer r.mut.RUnlock()

	f, ok := r.factories[kind]

	return f, ok
}

// Encode serializes the message along with its header.
func (r *Registry) Encode(msg Message, sender membership.ID) ([]byte, error) {
	if _, ok := r.factory(msg.Kind()); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind())
	}

	var body bytes.Buffer
	if err := codec.NewEncoder(&body, r.handle).Encode(msg); err != nil {
		return nil, fmt.Errorf("failed to encode message body: %w", err)
	}

	id := msg.ID()

	env := envelope{
		Kind:      msg.Kind(),
		ID:        id[:],
		CreatedAt: msg.Timestamp().UnixNano(),
		Sender:    string(sender),
		Body:      body.Bytes(),
	}

	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, r.handle).Encode(&env); err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode restores a message encoded with Encode. The kind must be registered.
func (r *Registry) Decode(data []byte) (Message, error) {
	var env envelope
	if err := codec.NewDecoderBytes(data, r.handle).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	factory, ok := r.factory(env.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, env.Kind)
	}

	id, err := uuid.FromBytes(env.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidID, err)
	}

	msg := factory()
	if err := codec.NewDecoderBytes(env.Body, r.handle).Decode(msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s body: %w", env.Kind, err)
	}

	*msg.header() = Header{
		id:        id,
		createdAt: time.Unix(0, env.CreatedAt),
		sender:    membership.ID(env.Sender),
	}

	return msg, nil
}
