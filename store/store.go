// Package store persists the host-side view of each device: capability
// values, mirrored settings and availability. SQLite is the default; a
// postgres DSN switches dialectors.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type Setting struct {
	DeviceID  string    `gorm:"primaryKey;size:64" json:"device_id"`
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Capability struct {
	DeviceID     string    `gorm:"primaryKey;size:64" json:"device_id"`
	CapabilityID string    `gorm:"primaryKey;size:64" json:"capability_id"`
	Value        string    `json:"value"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Availability struct {
	DeviceID  string    `gorm:"primaryKey;size:64" json:"device_id"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func Open(dsn string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	if err := db.AutoMigrate(&Setting{}, &Capability{}, &Availability{}); err != nil {
		return nil, fmt.Errorf("migrating state store: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// ForDevice returns the per-device view that plugs into the session manager
// as its host.
func (s *Store) ForDevice(deviceID string) *DeviceStore {
	return &DeviceStore{deviceID: deviceID, s: s}
}

func (s *Store) Settings(deviceID string) ([]Setting, error) {
	var out []Setting
	err := s.db.Where("device_id = ?", deviceID).Order("key").Find(&out).Error
	return out, err
}

func (s *Store) Capabilities(deviceID string) ([]Capability, error) {
	var out []Capability
	err := s.db.Where("device_id = ?", deviceID).Order("capability_id").Find(&out).Error
	return out, err
}

func (s *Store) AvailabilityOf(deviceID string) (Availability, error) {
	var a Availability
	err := s.db.Where("device_id = ?", deviceID).First(&a).Error
	return a, err
}

func (s *Store) upsert(model any) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(model).Error
}

// DeviceStore persists one device's values.
type DeviceStore struct {
	deviceID string
	s        *Store
}

func (d *DeviceStore) SetCapability(id string, value any) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}
	return d.s.upsert(&Capability{DeviceID: d.deviceID, CapabilityID: id, Value: encoded})
}

func (d *DeviceStore) SetSetting(key string, value any) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}
	return d.s.upsert(&Setting{DeviceID: d.deviceID, Key: key, Value: encoded})
}

func (d *DeviceStore) SetAvailable() {
	if err := d.s.upsert(&Availability{DeviceID: d.deviceID, Available: true}); err != nil {
		d.s.log.Warnf("could not record availability of %s: %s", d.deviceID, err)
	}
}

func (d *DeviceStore) SetUnavailable(reason string) {
	if err := d.s.upsert(&Availability{DeviceID: d.deviceID, Available: false, Reason: reason}); err != nil {
		d.s.log.Warnf("could not record availability of %s: %s", d.deviceID, err)
	}
}

func encodeValue(value any) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encoding value: %w", err)
	}
	return string(b), nil
}
