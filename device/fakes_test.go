package device

import (
	"context"
	"sync"
)

// fakeHandle records commands and lets tests push state events through the
// registered callbacks.
type fakeHandle struct {
	mu        sync.Mutex
	callbacks []func(map[string]any)
	commands  []any
	revoked   int
	setErr    error
}

func (h *fakeHandle) OnState(fn func(raw map[string]any)) {
	h.mu.Lock()
	h.callbacks = append(h.callbacks, fn)
	h.mu.Unlock()
}

func (h *fakeHandle) SetState(value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.setErr != nil {
		return h.setErr
	}
	h.commands = append(h.commands, value)
	return nil
}

func (h *fakeHandle) RevokeListeners() {
	h.mu.Lock()
	h.revoked++
	h.callbacks = nil
	h.mu.Unlock()
}

func (h *fakeHandle) emit(raw map[string]any) {
	h.mu.Lock()
	callbacks := append([]func(map[string]any){}, h.callbacks...)
	h.mu.Unlock()
	for _, fn := range callbacks {
		fn(raw)
	}
}

func (h *fakeHandle) revokedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

type fakeConn struct {
	hooks   SessionHooks
	mu      sync.Mutex
	closed  int
	listed  int
	listErr error
}

func (c *fakeConn) ListEntities() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listed++
	return c.listErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) closedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTransport hands out fakeConns and optionally fires the initialization
// hook as part of the dial, the way a fast handshake would.
type fakeTransport struct {
	mu       sync.Mutex
	conns    []*fakeConn
	dialErr  error
	autoInit bool
}

func (t *fakeTransport) Dial(_ context.Context, opts DialOptions) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	c := &fakeConn{hooks: opts.Hooks}
	t.conns = append(t.conns, c)
	if t.autoInit && opts.Hooks.OnInitialized != nil {
		opts.Hooks.OnInitialized()
	}
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

type fakeHost struct {
	mu           sync.Mutex
	capabilities map[string][]any
	settings     map[string][]any
	available    bool
	reason       string
	capErr       error
	setErr       error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		capabilities: map[string][]any{},
		settings:     map[string][]any{},
	}
}

func (h *fakeHost) SetCapability(id string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.capErr != nil {
		return h.capErr
	}
	h.capabilities[id] = append(h.capabilities[id], value)
	return nil
}

func (h *fakeHost) SetSetting(key string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.setErr != nil {
		return h.setErr
	}
	h.settings[key] = append(h.settings[key], value)
	return nil
}

func (h *fakeHost) SetAvailable() {
	h.mu.Lock()
	h.available = true
	h.reason = ""
	h.mu.Unlock()
}

func (h *fakeHost) SetUnavailable(reason string) {
	h.mu.Lock()
	h.available = false
	h.reason = reason
	h.mu.Unlock()
}

func (h *fakeHost) capabilityWrites(id string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.capabilities[id]...)
}

func (h *fakeHost) settingWrites(key string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.settings[key]...)
}

func (h *fakeHost) availability() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available, h.reason
}

func entityRaw(objectID, uniqueID, class string, key float64) map[string]any {
	return map[string]any{
		"key": key,
		"config": map[string]any{
			"object_id":           objectID,
			"unique_id":           uniqueID,
			"device_class":        class,
			"name":                objectID,
			"unit_of_measurement": "",
		},
	}
}

func stateRaw(key float64, value any) map[string]any {
	return map[string]any{"key": key, "value": value}
}

func newTestDevice(t *fakeTransport, h *fakeHost) *Device {
	d, err := New(Config{
		ID:        "24:6f:28:aa:bb:cc",
		Name:      "test",
		Transport: t,
		Host:      h,
	})
	if err != nil {
		panic(err)
	}
	return d
}
