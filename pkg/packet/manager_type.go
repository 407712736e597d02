package packet

import "strconv"

// ManagerType tags which subsystem a section of a datagram belongs to.
type ManagerType uint8

const (
	ManagerEvent   ManagerType = 1
	ManagerEntity  ManagerType = 2
	ManagerUnknown ManagerType = 255
)

// ParseManagerType maps a tag byte to a ManagerType. Values outside the known
// set become ManagerUnknown rather than an error; the caller decides what to
// do with a section it does not understand.
func ParseManagerType(b byte) ManagerType {
	switch ManagerType(b) {
	case ManagerEvent:
		return ManagerEvent
	case ManagerEntity:
		return ManagerEntity
	default:
		return ManagerUnknown
	}
}

func (t ManagerType) String() string {
	switch t {
	case ManagerEvent:
		return "event"
	case ManagerEntity:
		return "entity"
	case ManagerUnknown:
		return "unknown"
	default:
		return "ManagerType(" + strconv.Itoa(int(t)) + ")"
	}
}
