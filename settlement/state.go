package settlement

import "fmt"

// State is the lifecycle stage of a catalogue entry. The numeric values are part
// of the event schema and must not change.
type State uint8

const (
	Created State = iota
	Paid
	Delivered
)

// String returns the name of the state
func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Paid:
		return "Paid"
	case Delivered:
		return "Delivered"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Next returns the only state reachable from s. Delivered is terminal.
func (s State) Next() (State, bool) {
	switch s {
	case Created:
		return Paid, true
	case Paid:
		return Delivered, true
	default:
		return s, false
	}
}

// Valid reports whether s is one of the three known states
func (s State) Valid() bool {
	return s <= Delivered
}
