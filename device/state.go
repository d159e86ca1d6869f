package device

// SessionState tracks where the device sits in its connection lifecycle.
// Transitions drive availability reporting to the host.
type SessionState int

const (
	Disconnected SessionState = iota
	Connecting
	Connected
	// Unavailable is reached either through a failed connect or through a
	// permanent misconfiguration; the reason string tells the two apart.
	Unavailable
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}
