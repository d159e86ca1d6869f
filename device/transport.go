package device

import "context"

// SessionHooks receive a session's asynchronous events. They are registered
// at dial time and live exactly as long as the connection that owns them:
// Conn.Close drops them, so no listener can outlive its session.
type SessionHooks struct {
	// OnEntity delivers a raw entity announcement together with the live
	// handle for commanding it. The raw map is validated by the registry.
	OnEntity func(raw map[string]any, handle EntityHandle)
	// OnError delivers asynchronous session failures.
	OnError func(err error)
	// OnInitialized fires once the session handshake completed.
	OnInitialized func()
}

// DialOptions configures a single protocol session.
type DialOptions struct {
	DeviceID      string
	Address       string
	EncryptionKey string

	// State subscription is the only stream the session manager wants; log,
	// BLE and device-info streams stay off. Transport-level reconnect stays
	// off too because the session manager owns reconnection policy.
	SubscribeStates bool
	SubscribeLogs   bool
	SubscribeBLE    bool
	SubscribeInfo   bool
	Reconnect       bool

	Hooks SessionHooks
}

// Transport opens protocol sessions. The wire protocol itself is a black box
// to the session manager; it only consumes the event shape above.
type Transport interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}

// Conn is one live protocol session.
type Conn interface {
	// ListEntities asks the device to announce every entity it exposes.
	ListEntities() error
	// Close tears the session down and drops all registered hooks. Safe to
	// call more than once.
	Close() error
}

// EntityHandle commands and observes a single entity. It is owned by the
// session that produced it; the registry keeps a non-owning reference that is
// only valid until the next disconnect.
type EntityHandle interface {
	OnState(fn func(raw map[string]any))
	SetState(value any) error
	RevokeListeners()
}

// Host is the home-automation side of the bridge: user-visible capability
// values, persisted settings and availability reporting.
type Host interface {
	SetCapability(id string, value any) error
	SetSetting(key string, value any) error
	SetAvailable()
	SetUnavailable(reason string)
}
