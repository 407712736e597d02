package event

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var ErrDuplicateType = errors.New("event: type id already registered")

// Manifest turns a type id and payload from the wire into an event. It
// reports false for ids it does not know. The payload aliases the packet
// buffer; implementations must copy anything they keep.
type Manifest[T any] interface {
	CreateEvent(typeID uint16, payload []byte) (T, bool)
}

// Constructor builds one event type from its payload.
type Constructor[T any] func(payload []byte) T

// Registry is a map-backed Manifest. Registration usually happens at startup;
// lookups may run concurrently with each other.
type Registry[T any] struct {
	mu    sync.RWMutex
	ctors map[uint16]Constructor[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{ctors: make(map[uint16]Constructor[T])}
}

func (r *Registry[T]) Register(typeID uint16, ctor Constructor[T]) error {
	if ctor == nil {
		return fmt.Errorf("register type %d: nil constructor", typeID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ctors[typeID]; ok {
		return fmt.Errorf("register type %d: %w", typeID, ErrDuplicateType)
	}
	r.ctors[typeID] = ctor
	return nil
}

func (r *Registry[T]) CreateEvent(typeID uint16, payload []byte) (T, bool) {
	r.mu.RLock()
	ctor, ok := r.ctors[typeID]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	return ctor(payload), true
}

// Types returns the registered ids in ascending order.
func (r *Registry[T]) Types() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.ctors))
}

// MessageConstructor returns a Constructor producing Messages of the given
// type and delivery class.
func MessageConstructor(typeID uint16, guaranteed bool) Constructor[Message] {
	return func(payload []byte) Message {
		return Message{Type: typeID, Reliable: guaranteed, Data: append([]byte(nil), payload...)}
	}
}
