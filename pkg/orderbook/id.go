package orderbook

import (
	"fmt"

	"github.com/google/uuid"
)

// OrderId disambiguates orders across process restarts: a machine id, the
// session that accepted the order, and a monotonic sequence number scoped
// to that session. The triple is assigned at accept time and is unique
// within a session (spec invariant: OrderId tuples are unique within a
// session).
type OrderId struct {
	MachineID uint16
	Session   uuid.UUID
	Seq       int64
}

func (id OrderId) String() string {
	return fmt.Sprintf("%d:%s:%d", id.MachineID, id.Session, id.Seq)
}

// IDFactory mints OrderIds for a single engine session.
type IDFactory struct {
	machineID uint16
	session   uuid.UUID
	seq       int64
}

// NewIDFactory starts a fresh session for machineID, with the sequence
// counter at zero.
func NewIDFactory(machineID uint16) *IDFactory {
	return &IDFactory{machineID: machineID, session: uuid.New()}
}

// Next assigns the next OrderId in this session.
func (f *IDFactory) Next() OrderId {
	f.seq++
	return OrderId{MachineID: f.machineID, Session: f.session, Seq: f.seq}
}

// ClientOrderId is an opaque caller-supplied identifier, carried through to
// fills and cancels but never interpreted by the engine.
type ClientOrderId string

// Side is the direction of an order or fill.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "Buy"
	}
	return "Sell"
}

// Opposite returns the other side, used when matching a taker against the
// resting book on the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Kind is the order-execution style requested by the client.
type Kind int8

const (
	Market Kind = iota
	Limit
	PostOnly
	ImmediateOrCancel
	FillOrKill
)

func (k Kind) String() string {
	switch k {
	case Market:
		return "Market"
	case Limit:
		return "Limit"
	case PostOnly:
		return "PostOnly"
	case ImmediateOrCancel:
		return "ImmediateOrCancel"
	case FillOrKill:
		return "FillOrKill"
	default:
		return "Unknown"
	}
}

// Status is the lifecycle state of an Order. Filled, Cancelled, Rejected,
// and Liquidated are terminal: an order never leaves a terminal state.
type Status int8

const (
	Pending Status = iota
	Open
	PartiallyFilled
	Filled
	Cancelled
	Rejected
	Liquidated
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Open:
		return "Open"
	case PartiallyFilled:
		return "PartiallyFilled"
	case Filled:
		return "Filled"
	case Cancelled:
		return "Cancelled"
	case Rejected:
		return "Rejected"
	case Liquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s can never transition further.
func (s Status) IsTerminal() bool {
	switch s {
	case Filled, Cancelled, Rejected, Liquidated:
		return true
	default:
		return false
	}
}
