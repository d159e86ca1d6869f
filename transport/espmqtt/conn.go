package espmqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/XANi/espbridge/device"
)

const publishTimeout = 5 * time.Second

// conn is one live MQTT-backed session. Hooks and handles are dropped on
// Close so nothing registered on this session can fire after it ends.
type conn struct {
	root   string // <prefix>/<device id>
	client mqtt.Client
	log    *zap.SugaredLogger

	mu      sync.Mutex
	hooks   device.SessionHooks
	handles map[int64]*handle
	closed  bool
}

func newConn(prefix string, opts device.DialOptions, log *zap.SugaredLogger) *conn {
	return &conn{
		root:    prefix + "/" + opts.DeviceID,
		log:     log,
		hooks:   opts.Hooks,
		handles: map[int64]*handle{},
	}
}

func (c *conn) subscribe(opts device.DialOptions) error {
	subs := map[string]mqtt.MessageHandler{
		c.root + "/status": c.handleStatus,
		c.root + "/entity": c.handleEntity,
		c.root + "/error":  c.handleDeviceError,
	}
	if opts.SubscribeStates {
		subs[c.root+"/state/#"] = c.handleState
	}
	if opts.SubscribeLogs {
		subs[c.root+"/debug"] = func(_ mqtt.Client, m mqtt.Message) {
			c.log.Debugf("device log: %s", string(m.Payload()))
		}
	}
	for topic, fn := range subs {
		if token := c.client.Subscribe(topic, 0, fn); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribing %s: %w", topic, token.Error())
		}
	}
	return nil
}

// ListEntities asks the device to re-announce everything it exposes.
func (c *conn) ListEntities() error {
	token := c.client.Publish(c.root+"/list_entities", 0, false, []byte{})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out requesting entity list")
	}
	return token.Error()
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.hooks = device.SessionHooks{}
	c.handles = map[int64]*handle{}
	client := c.client
	c.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
	return nil
}

func (c *conn) hooksSnapshot() (device.SessionHooks, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hooks, !c.closed
}

func (c *conn) emitError(err error) {
	hooks, live := c.hooksSnapshot()
	if live && hooks.OnError != nil {
		hooks.OnError(err)
	}
}

func (c *conn) handleStatus(_ mqtt.Client, m mqtt.Message) {
	switch string(m.Payload()) {
	case "online":
		hooks, live := c.hooksSnapshot()
		if live && hooks.OnInitialized != nil {
			hooks.OnInitialized()
		}
	case "offline":
		c.emitError(errors.New("device reported offline"))
	default:
		c.log.Warnf("unexpected status payload %q", string(m.Payload()))
	}
}

func (c *conn) handleDeviceError(_ mqtt.Client, m mqtt.Message) {
	c.emitError(errors.New(string(m.Payload())))
}

// handleEntity forwards a raw announcement together with the handle keyed by
// its numeric protocol key. Validating the announcement is the registry's
// job; the transport only needs the key for routing.
func (c *conn) handleEntity(_ mqtt.Client, m mqtt.Message) {
	raw := map[string]any{}
	if err := json.Unmarshal(m.Payload(), &raw); err != nil {
		c.log.Warnf("could not decode entity announcement on %s: %s", m.Topic(), err)
		return
	}
	key, ok := raw["key"].(float64)
	if !ok {
		c.log.Warnf("entity announcement on %s has no numeric key", m.Topic())
		return
	}
	h := c.ensureHandle(int64(key))
	hooks, live := c.hooksSnapshot()
	if live && hooks.OnEntity != nil {
		hooks.OnEntity(raw, h)
	}
}

func (c *conn) handleState(_ mqtt.Client, m mqtt.Message) {
	raw := map[string]any{}
	if err := json.Unmarshal(m.Payload(), &raw); err != nil {
		c.log.Warnf("could not decode state on %s: %s", m.Topic(), err)
		return
	}
	key, ok := raw["key"].(float64)
	if !ok {
		c.log.Warnf("state on %s has no numeric key", m.Topic())
		return
	}
	c.mu.Lock()
	h, ok := c.handles[int64(key)]
	c.mu.Unlock()
	if !ok {
		c.log.Debugf("state for unannounced key %d", int64(key))
		return
	}
	h.emit(raw)
}

func (c *conn) ensureHandle(key int64) *handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[key]; ok {
		return h
	}
	h := &handle{key: key, c: c}
	c.handles[key] = h
	return h
}

// handle commands and observes one entity over the session's broker
// connection.
type handle struct {
	key int64
	c   *conn

	mu        sync.Mutex
	callbacks []func(raw map[string]any)
}

func (h *handle) OnState(fn func(raw map[string]any)) {
	h.mu.Lock()
	h.callbacks = append(h.callbacks, fn)
	h.mu.Unlock()
}

func (h *handle) SetState(value any) error {
	payload, err := json.Marshal(map[string]any{"key": h.key, "value": value})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	token := h.c.client.Publish(fmt.Sprintf("%s/command/%d", h.c.root, h.key), 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing command for key %d", h.key)
	}
	return token.Error()
}

func (h *handle) RevokeListeners() {
	h.mu.Lock()
	h.callbacks = nil
	h.mu.Unlock()
}

func (h *handle) emit(raw map[string]any) {
	h.mu.Lock()
	callbacks := append([]func(map[string]any){}, h.callbacks...)
	h.mu.Unlock()
	for _, fn := range callbacks {
		fn(raw)
	}
}
