package connection

import (
	"errors"
	"fmt"

	"github.com/ryandielhenn/zephyrnet/pkg/packet"
)

// Datagram layout, integers big-endian:
//
//	kind     u8   low bits PacketKind, high bit set when ack fields are valid
//	seq      u16  sender's sequence number for this packet
//	ack      u16  latest sequence the sender has received from us
//	ack_bits u32  bit i set: ack-(i+1) was received too
//	sections...   [ManagerType u8][section] (data packets only)

// PacketKind distinguishes control datagrams from data.
type PacketKind uint8

const (
	KindHandshake PacketKind = iota + 1
	KindHeartbeat
	KindData
	KindDisconnect
)

// HeaderSize is the encoded size of Header.
const HeaderSize = 9

const hasAckFlag = 0x80

var ErrBadHeader = errors.New("connection: malformed packet header")

type Header struct {
	Kind    PacketKind
	Seq     uint16
	// HasAck is false until the sender has received anything from us; Ack
	// and AckBits are meaningless until then.
	HasAck  bool
	Ack     uint16
	AckBits uint32
}

func (h Header) write(w *packet.Writer) {
	b := uint8(h.Kind)
	if h.HasAck {
		b |= hasAckFlag
	}
	w.WriteU8(b)
	w.WriteU16(h.Seq)
	w.WriteU16(h.Ack)
	w.WriteU32(h.AckBits)
}

func readHeader(r *packet.Reader) (Header, error) {
	if r.Remaining() < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrBadHeader, r.Remaining())
	}
	var h Header
	kind, _ := r.ReadU8()
	h.HasAck = kind&hasAckFlag != 0
	h.Kind = PacketKind(kind &^ hasAckFlag)
	h.Seq, _ = r.ReadU16()
	h.Ack, _ = r.ReadU16()
	h.AckBits, _ = r.ReadU32()
	if h.Kind < KindHandshake || h.Kind > KindDisconnect {
		return Header{}, fmt.Errorf("%w: kind %d", ErrBadHeader, h.Kind)
	}
	return h, nil
}

// PeekKind reports the kind of a datagram without consuming it.
func PeekKind(datagram []byte) (PacketKind, error) {
	h, err := readHeader(packet.NewReader(datagram))
	return h.Kind, err
}

func (k PacketKind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindHeartbeat:
		return "heartbeat"
	case KindData:
		return "data"
	case KindDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("PacketKind(%d)", uint8(k))
	}
}
