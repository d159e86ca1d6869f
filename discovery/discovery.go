// Package discovery listens for ESPHome device sightings on the broker and
// turns them into location records. Records only refresh metadata; they never
// initiate protocol sessions.
package discovery

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// TXT carries the version metadata a device advertises about itself.
type TXT struct {
	Version        string
	ProjectVersion string
}

// Record is one sighting of a device on the network, matched to managed
// devices by stable ID.
type Record struct {
	ID      string
	Address string
	Host    string
	TXT     TXT
}

type Handler func(Record)

type Config struct {
	MQTTAddr string
	Logger   *zap.SugaredLogger
}

// Listener subscribes to the esphome discover topics and fans decoded records
// out to registered handlers.
type Listener struct {
	client mqtt.Client
	log    *zap.SugaredLogger

	mu       sync.RWMutex
	handlers []Handler
}

// announcement is the JSON a device publishes under esphome/discover/<name>.
type announcement struct {
	IP             string `json:"ip"`
	Name           string `json:"name"`
	MAC            string `json:"mac"`
	Version        string `json:"version"`
	ProjectVersion string `json:"project_version"`
}

func New(cfg Config) (*Listener, error) {
	mqttURL, err := url.Parse(cfg.MQTTAddr)
	if err != nil {
		return nil, fmt.Errorf("cannot parse MQTT URL: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	p, _ := mqttURL.User.Password()
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTAddr).
		SetUsername(mqttURL.User.Username()).
		SetPassword(p).
		SetClientID("espbridge-discovery").
		SetKeepAlive(2 * time.Second).
		SetPingTimeout(1 * time.Second)

	l := &Listener{log: cfg.Logger}
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting discovery listener: %w", token.Error())
	}
	l.client = client
	if token := client.Subscribe("esphome/discover/#", 0, l.handleMessage); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribing discovery topic: %w", token.Error())
	}
	// nudge devices that only announce on request
	client.Publish("esphome/discover", 0, false, []byte{})
	return l, nil
}

// OnRecord registers a handler for every decoded sighting.
func (l *Listener) OnRecord(h Handler) {
	l.mu.Lock()
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
}

func (l *Listener) Close() {
	l.client.Disconnect(250)
}

func (l *Listener) handleMessage(_ mqtt.Client, m mqtt.Message) {
	rec, err := decodeRecord(m.Payload())
	if err != nil {
		l.log.Warnf("could not decode discovery %s: %s", m.Topic(), err)
		return
	}
	l.log.Debugf("sighted %s at %s", rec.ID, rec.Address)
	l.mu.RLock()
	handlers := append([]Handler(nil), l.handlers...)
	l.mu.RUnlock()
	for _, h := range handlers {
		h(rec)
	}
}

func decodeRecord(payload []byte) (Record, error) {
	var a announcement
	if err := json.Unmarshal(payload, &a); err != nil {
		return Record{}, err
	}
	id := a.MAC
	if id == "" {
		id = a.Name
	}
	if id == "" {
		return Record{}, fmt.Errorf("announcement carries neither mac nor name")
	}
	return Record{
		ID:      id,
		Address: a.IP,
		Host:    a.Name,
		TXT: TXT{
			Version:        a.Version,
			ProjectVersion: a.ProjectVersion,
		},
	}, nil
}
