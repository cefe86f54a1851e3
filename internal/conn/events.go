package conn

// EventKind discriminates the variants of an inbound [Event].
type EventKind int

const (
	// KindConnecting is emitted before each dial attempt.
	KindConnecting EventKind = iota

	// KindConnected is emitted when a connection is established.
	KindConnected

	// KindDisconnected is emitted when an established connection is lost or
	// torn down.
	KindDisconnected

	// KindText carries an inbound text frame payload.
	KindText

	// KindBinary carries an inbound binary frame payload.
	KindBinary

	// KindFailure is emitted when a dial attempt fails.
	KindFailure
)

// String returns the kind's wire-log name.
func (k EventKind) String() string {
	switch k {
	case KindConnecting:
		return "connecting"
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindFailure:
		return "failure"
	}
	return "unknown"
}

// Event is one inbound occurrence on the connection: a lifecycle transition
// or a received frame. Events are delivered in strict arrival order; text and
// binary interleavings preserve the order seen on the transport.
type Event struct {
	Kind EventKind

	// Attempt and URL are set on KindConnecting.
	Attempt int
	URL     string

	// Data is the frame payload for KindText and KindBinary.
	Data []byte

	// Err is the cause for KindFailure.
	Err error
}
