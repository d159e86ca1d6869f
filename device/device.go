package device

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultConnectTimeout bounds the wait for the session initialization
// signal.
const DefaultConnectTimeout = 15 * time.Second

// Config wires one managed device.
type Config struct {
	ID            string
	Name          string
	Address       string
	EncryptionKey string

	Transport Transport
	Host      Host
	Logger    *zap.SugaredLogger

	// ConnectTimeout defaults to DefaultConnectTimeout when zero.
	ConnectTimeout time.Duration
}

// Device owns the session lifecycle for a single physical device: connect,
// entity registration, state dispatch, reconnection and teardown.
type Device struct {
	id             string
	name           string
	address        string
	encryptionKey  string
	connectTimeout time.Duration

	transport Transport
	host      Host
	log       *zap.SugaredLogger
	registry  *Registry

	// mu serializes connect against disconnect and guards conn/state, so two
	// live sessions can never coexist.
	mu     sync.Mutex
	conn   Conn
	state  SessionState
	reason string
}

func New(cfg Config) (*Device, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if cfg.Transport == nil || cfg.Host == nil {
		return nil, fmt.Errorf("device %s: transport and host are required", cfg.ID)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &Device{
		id:             cfg.ID,
		name:           cfg.Name,
		address:        cfg.Address,
		encryptionKey:  cfg.EncryptionKey,
		connectTimeout: cfg.ConnectTimeout,
		transport:      cfg.Transport,
		host:           cfg.Host,
		log:            cfg.Logger,
		registry:       NewRegistry(),
	}, nil
}

// ID returns the stable device identifier discovery records are matched
// against.
func (d *Device) ID() string { return d.id }

// Connect establishes a fresh session. Any prior session is fully torn down
// first, so calling it on an already connected device is safe.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectLocked(ctx)
}

func (d *Device) connectLocked(ctx context.Context) error {
	d.teardownLocked()
	d.state = Connecting
	initialized := make(chan struct{}, 1)
	conn, err := d.transport.Dial(ctx, DialOptions{
		DeviceID:        d.id,
		Address:         d.address,
		EncryptionKey:   d.encryptionKey,
		SubscribeStates: true,
		Hooks: SessionHooks{
			OnEntity: d.handleNewEntity,
			OnError:  d.handleSessionError,
			OnInitialized: func() {
				select {
				case initialized <- struct{}{}:
				default:
				}
			},
		},
	})
	if err != nil {
		d.failLocked(reasonGeneric)
		return fmt.Errorf("dialing %s: %w", d.id, err)
	}
	d.conn = conn

	timer := time.NewTimer(d.connectTimeout)
	defer timer.Stop()
	select {
	case <-initialized:
	case <-timer.C:
		d.failLocked(reasonTimeout)
		return ErrConnectTimeout
	case <-ctx.Done():
		d.failLocked(reasonGeneric)
		return ctx.Err()
	}

	if err := conn.ListEntities(); err != nil {
		d.failLocked(reasonGeneric)
		return fmt.Errorf("listing entities on %s: %w", d.id, err)
	}
	go d.resolveName()
	d.state = Connected
	d.reason = ""
	d.host.SetAvailable()
	d.log.Infof("[%s] connected", d.id)
	return nil
}

// Disconnect tears the current session down. It waits for any in-flight
// connect attempt to finish (and swallows its outcome) and is safe to call
// when no session exists.
func (d *Device) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
}

// teardownLocked closes the transport session best-effort, revokes every
// entity-level listener and empties the registry. After it returns no stale
// handle can ever be dispatched to.
func (d *Device) teardownLocked() {
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			d.log.Warnf("[%s] error closing session: %s (ignoring)", d.id, err)
		}
		d.conn = nil
	}
	for _, entry := range d.registry.Clear() {
		if entry.Handle == nil {
			// registry contract: every entry carries a revocable handle
			d.log.Panicf("[%s] entity %s stored without a handle", d.id, entry.Entity.ObjectID)
		}
		entry.Handle.RevokeListeners()
	}
	d.state = Disconnected
	d.reason = ""
}

func (d *Device) failLocked(reason string) {
	d.teardownLocked()
	d.state = Unavailable
	d.reason = reason
	d.host.SetUnavailable(reason)
}

// handleNewEntity registers an announced entity and only then subscribes to
// its state stream, so no state event can be dispatched for an entity that
// did not complete registration.
func (d *Device) handleNewEntity(raw map[string]any, handle EntityHandle) {
	entry, err := d.registry.Register(raw, handle)
	if err != nil {
		d.log.Warnf("[%s] dropping malformed entity announcement: %s", d.id, err)
		return
	}
	objectID := entry.Entity.ObjectID
	handle.OnState(func(raw map[string]any) {
		d.dispatchState(objectID, raw)
	})
	d.log.Debugf("[%s] registered entity %s (class %q)", d.id, objectID, entry.Entity.DeviceClass)
}

// handleSessionError classifies asynchronous session failures. An encryption
// mismatch is permanent and never retried; anything else triggers one
// automatic reconnect.
func (d *Device) handleSessionError(err error) {
	if isEncryptionMismatch(err) {
		d.log.Errorf("[%s] encryption mismatch, not reconnecting: %s", d.id, err)
		d.mu.Lock()
		d.failLocked(reasonEncryption)
		d.mu.Unlock()
		return
	}
	d.log.Warnf("[%s] session error, reconnecting: %s", d.id, err)
	go func() {
		if cerr := d.Connect(context.Background()); cerr != nil {
			d.log.Errorf("[%s] reconnect failed: %s", d.id, cerr)
		}
	}()
}

// resolveName reverse-resolves the device address for diagnostics. Failure
// here never affects availability.
func (d *Device) resolveName() {
	if d.address == "" {
		return
	}
	host := d.address
	if h, _, err := net.SplitHostPort(d.address); err == nil {
		host = h
	}
	names, err := net.LookupAddr(host)
	if err != nil || len(names) == 0 {
		d.log.Debugf("[%s] reverse lookup of %s failed: %s", d.id, host, err)
		return
	}
	d.log.Infof("[%s] device resolves to %s", d.id, names[0])
}

// DiscoveryRecord is a network-location hint produced by an external locator.
type DiscoveryRecord struct {
	ID      string
	Address string
	Host    string
	TXT     DiscoveryTXT
}

type DiscoveryTXT struct {
	Version        string
	ProjectVersion string
}

// HandleDiscovery refreshes stored network metadata from a fresh sighting of
// this device. Pure upsert: it never touches the connection.
func (d *Device) HandleDiscovery(rec DiscoveryRecord) {
	if rec.ID != d.id {
		return
	}
	upsert := func(key, value string) {
		if value == "" {
			return
		}
		if err := d.host.SetSetting(key, value); err != nil {
			d.log.Warnf("[%s] could not refresh %s: %s", d.id, key, err)
		}
	}
	upsert(SettingIP, rec.Address)
	upsert(SettingVersion, rec.TXT.Version)
	upsert(SettingProjectVersion, rec.TXT.ProjectVersion)
	d.log.Debugf("[%s] refreshed discovery metadata from %s", d.id, rec.Host)
}

// Status is a diagnostic snapshot for the web layer.
type Status struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	State    string         `json:"state"`
	Reason   string         `json:"reason,omitempty"`
	Entities []EntityStatus `json:"entities"`
}

type EntityStatus struct {
	ObjectID string `json:"object_id"`
	Class    string `json:"class"`
	Name     string `json:"name"`
	Unit     string `json:"unit,omitempty"`
}

func (d *Device) Status() Status {
	d.mu.Lock()
	st := Status{ID: d.id, Name: d.name, State: d.state.String(), Reason: d.reason}
	d.mu.Unlock()
	for _, entry := range d.registry.Snapshot() {
		st.Entities = append(st.Entities, EntityStatus{
			ObjectID: entry.Entity.ObjectID,
			Class:    string(entry.Entity.DeviceClass),
			Name:     entry.Entity.Name,
			Unit:     entry.Entity.Unit,
		})
	}
	return st
}
