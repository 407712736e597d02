package event

import "bytes"

// Event is the capability set the Manager needs from an application's event
// type: a delivery class and a way to duplicate a value without sharing
// mutable state.
type Event[T any] interface {
	IsGuaranteed() bool
	Clone() T
}

// Encodable events can be written into an event section.
type Encodable interface {
	TypeID() uint16
	Payload() []byte
}

// Message is the stock event type: a type id agreed between peers through the
// Manifest, a delivery class, and an opaque payload.
type Message struct {
	Type     uint16
	Reliable bool
	Data     []byte
}

func (m Message) TypeID() uint16 { return m.Type }

func (m Message) IsGuaranteed() bool { return m.Reliable }

func (m Message) Payload() []byte { return m.Data }

// Clone returns a copy with its own payload slice.
func (m Message) Clone() Message {
	m.Data = bytes.Clone(m.Data)
	return m
}
