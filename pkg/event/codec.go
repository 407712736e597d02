package event

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrnet/internal/telemetry"
	"github.com/ryandielhenn/zephyrnet/pkg/packet"
)

// Event section layout, integers big-endian:
//
//	event_count    u8
//	event_count times:
//	    type_id        u16
//	    payload_length u8
//	    payload        [payload_length]byte

const (
	MaxSectionEvents = math.MaxUint8
	MaxPayloadLen    = math.MaxUint8

	// sectionHeaderSize is the event_count byte.
	sectionHeaderSize = 1
	recordHeaderSize  = 3
)

var (
	// ErrFraming marks an event section that cannot be parsed. The whole
	// section is discarded.
	ErrFraming = errors.New("event: malformed event section")

	ErrTooManyEvents   = errors.New("event: too many events for one section")
	ErrPayloadTooLarge = errors.New("event: payload too large")
)

// ProcessData decodes one event section from r and appends the events the
// manifest recognizes to the incoming queue. Records with an unknown type id
// are skipped.
//
// On a framing error nothing from the section is queued and the returned
// error wraps both ErrFraming and packet.ErrShortBuffer; the caller should
// drop the rest of the packet.
func (m *Manager[T]) ProcessData(r *packet.Reader, manifest Manifest[T]) error {
	count, err := r.ReadU8()
	if err != nil {
		return m.framingError(fmt.Errorf("%w: event count: %w", ErrFraming, err))
	}

	staged := make([]T, 0, count)
	for i := range int(count) {
		typeID, err := r.ReadU16()
		if err != nil {
			return m.framingError(fmt.Errorf("%w: record %d type: %w", ErrFraming, i, err))
		}
		length, err := r.ReadU8()
		if err != nil {
			return m.framingError(fmt.Errorf("%w: record %d length: %w", ErrFraming, i, err))
		}
		payload, err := r.ReadBytes(int(length))
		if err != nil {
			return m.framingError(fmt.Errorf("%w: record %d payload: %w", ErrFraming, i, err))
		}

		ev, ok := manifest.CreateEvent(typeID, payload)
		if !ok {
			telemetry.UnknownEventTypes.Inc()
			m.log.Debug("skipping unregistered event type", zap.Uint16("type_id", typeID))
			continue
		}
		staged = append(staged, ev)
	}

	for _, ev := range staged {
		m.incoming.PushBack(ev)
	}
	telemetry.EventsReceived.Add(float64(len(staged)))
	return nil
}

// SkipSection advances r past one event section without decoding it. It
// fails the same way ProcessData does on a malformed section.
func SkipSection(r *packet.Reader) error {
	count, err := r.ReadU8()
	if err != nil {
		telemetry.DecodeErrors.Inc()
		return fmt.Errorf("%w: event count: %w", ErrFraming, err)
	}
	for i := range int(count) {
		if err := r.Skip(2); err != nil {
			telemetry.DecodeErrors.Inc()
			return fmt.Errorf("%w: record %d type: %w", ErrFraming, i, err)
		}
		length, err := r.ReadU8()
		if err != nil {
			telemetry.DecodeErrors.Inc()
			return fmt.Errorf("%w: record %d length: %w", ErrFraming, i, err)
		}
		if err := r.Skip(int(length)); err != nil {
			telemetry.DecodeErrors.Inc()
			return fmt.Errorf("%w: record %d payload: %w", ErrFraming, i, err)
		}
	}
	return nil
}

func (m *Manager[T]) framingError(err error) error {
	telemetry.DecodeErrors.Inc()
	m.log.Debug("discarding event section", zap.Error(err))
	return err
}

// RecordSize is the number of bytes ev occupies in an event section.
func RecordSize[T Encodable](ev T) int {
	return recordHeaderSize + len(ev.Payload())
}

// SectionSize is the encoded size of a section holding evs.
func SectionSize[T Encodable](evs []T) int {
	n := sectionHeaderSize
	for _, ev := range evs {
		n += RecordSize(ev)
	}
	return n
}

// WriteSection encodes evs as one event section. Nothing is written if any
// event cannot be represented.
func WriteSection[T Encodable](w *packet.Writer, evs []T) error {
	if len(evs) > MaxSectionEvents {
		return fmt.Errorf("%d events: %w", len(evs), ErrTooManyEvents)
	}
	for _, ev := range evs {
		if n := len(ev.Payload()); n > MaxPayloadLen {
			return fmt.Errorf("type %d payload %d bytes: %w", ev.TypeID(), n, ErrPayloadTooLarge)
		}
	}

	w.WriteU8(uint8(len(evs)))
	for _, ev := range evs {
		payload := ev.Payload()
		w.WriteU16(ev.TypeID())
		w.WriteU8(uint8(len(payload)))
		w.WriteBytes(payload)
	}
	return nil
}
