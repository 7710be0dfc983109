// Package storage persists the device agent's state: the session, counters,
// DevNonce sequence and learned channel plan, plus the event log. A restart
// must resume with exactly the persisted counters, so writes are atomic per
// device.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-device-pro/internal/mac"
	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Event is one entry of the agent's event log.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	DevEUI    lorawan.EUI64   `json:"dev_eui"`
	Type      string          `json:"type"`
	Level     string          `json:"level"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Event types
const (
	EventTypeJoin     = "join"
	EventTypeUplink   = "uplink"
	EventTypeDownlink = "downlink"
	EventTypeError    = "error"
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Device state methods
	SaveDeviceState(ctx context.Context, devEUI lorawan.EUI64, state mac.PersistentState) error
	GetDeviceState(ctx context.Context, devEUI lorawan.EUI64) (*mac.PersistentState, error)
	DeleteDeviceState(ctx context.Context, devEUI lorawan.EUI64) error

	// Event log methods
	CreateEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, devEUI lorawan.EUI64, limit, offset int) ([]*Event, int64, error)

	Close() error
}
