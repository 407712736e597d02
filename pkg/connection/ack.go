package connection

import (
	"cmp"
	"slices"
	"time"
)

// AckWindow is how many packets before the latest ack a header can vouch for.
const AckWindow = 32

// SequenceGreater reports whether a is newer than b, allowing for the 16-bit
// counter wrapping around.
func SequenceGreater(a, b uint16) bool {
	return (a > b && a-b <= 32768) || (a < b && b-a > 32768)
}

// Ack is a sent packet the peer confirmed, with the time it spent in flight.
type Ack struct {
	Seq uint16
	RTT time.Duration
}

// AckTracker numbers outgoing packets and keeps the receive history that is
// echoed back in every header.
type AckTracker struct {
	nextSeq uint16
	sent    map[uint16]time.Time

	haveRemote bool
	remoteSeq  uint16
	remoteBits uint32
}

func NewAckTracker() *AckTracker {
	return &AckTracker{sent: make(map[uint16]time.Time)}
}

// Next allocates the sequence number for a packet about to be sent.
func (a *AckTracker) Next(now time.Time) uint16 {
	seq := a.nextSeq
	a.nextSeq++
	a.sent[seq] = now
	return seq
}

// Peek returns the sequence number the next packet will get.
func (a *AckTracker) Peek() uint16 { return a.nextSeq }

// Unresolved is the number of sent packets with no verdict yet.
func (a *AckTracker) Unresolved() int { return len(a.sent) }

// Received returns the ack fields for an outgoing header. ok is false until
// the first packet from the peer has been observed.
func (a *AckTracker) Received() (ack uint16, bits uint32, ok bool) {
	return a.remoteSeq, a.remoteBits, a.haveRemote
}

// Fresh reports whether seq has not been observed yet and is recent enough to
// be represented. It does not record anything.
func (a *AckTracker) Fresh(seq uint16) bool {
	if !a.haveRemote || SequenceGreater(seq, a.remoteSeq) {
		return true
	}
	diff := a.remoteSeq - seq
	if diff == 0 || diff > AckWindow {
		return false
	}
	return a.remoteBits&(1<<(diff-1)) == 0
}

// Observe records an incoming sequence number. It returns false for a
// duplicate or for a packet too old to be represented, which the caller
// should ignore.
func (a *AckTracker) Observe(seq uint16) bool {
	if !a.Fresh(seq) {
		return false
	}
	if !a.haveRemote {
		a.haveRemote = true
		a.remoteSeq = seq
		a.remoteBits = 0
		return true
	}

	if SequenceGreater(seq, a.remoteSeq) {
		diff := seq - a.remoteSeq
		if diff > AckWindow {
			a.remoteBits = 0
		} else {
			a.remoteBits = a.remoteBits<<diff | 1<<(diff-1)
		}
		a.remoteSeq = seq
		return true
	}

	a.remoteBits |= 1 << (a.remoteSeq - seq - 1)
	return true
}

// Resolve applies the ack fields of an incoming header. Every sent packet at
// or before ack gets a verdict: delivered if the header vouches for it,
// dropped otherwise. Packets sent after ack stay pending. Both results are
// ordered oldest first.
//
// A packet reordered just behind a newer ack is reported dropped even if it
// arrives later, so its guaranteed events are resent and may be delivered
// twice.
func (a *AckTracker) Resolve(ack uint16, bits uint32, now time.Time) (delivered []Ack, dropped []uint16) {
	for seq, sentAt := range a.sent {
		if seq != ack && !SequenceGreater(ack, seq) {
			continue
		}
		diff := ack - seq
		if diff == 0 || (diff <= AckWindow && bits&(1<<(diff-1)) != 0) {
			delivered = append(delivered, Ack{Seq: seq, RTT: now.Sub(sentAt)})
		} else {
			dropped = append(dropped, seq)
		}
		delete(a.sent, seq)
	}

	age := func(seq uint16) uint16 { return ack - seq }
	slices.SortFunc(delivered, func(x, y Ack) int { return cmp.Compare(age(y.Seq), age(x.Seq)) })
	slices.SortFunc(dropped, func(x, y uint16) int { return cmp.Compare(age(y), age(x)) })
	return delivered, dropped
}
