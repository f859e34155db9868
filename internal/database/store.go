// internal/database/store.go
package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations. Every method
// honors context cancellation so callers can bound persistence latency.
type Store interface {
	// Machine operations
	GetMachines(ctx context.Context, filters MachineFilters) ([]Machine, error)
	GetMachine(ctx context.Context, id string) (*Machine, error)
	CreateMachine(ctx context.Context, machine *Machine) error
	UpdateMachine(ctx context.Context, machine *Machine) error
	DeleteMachine(ctx context.Context, id string) error

	// UpsertRegistration creates or refreshes a machine row when an agent
	// registers over the live channel. Returns whether the row was created.
	UpsertRegistration(ctx context.Context, id, name, addr string, info *SystemInfo) (bool, error)

	// MarkDisconnected flips the connected flag off and sets the machine
	// inactive. No-op if the machine does not exist.
	MarkDisconnected(ctx context.Context, id string) error

	// TouchHeartbeat updates the last-heartbeat timestamp. No-op if the
	// machine does not exist; a late heartbeat is tolerated, not an error.
	TouchHeartbeat(ctx context.Context, id string, ts time.Time) error

	// ApplyPointage appends the event and updates the paired machine row
	// (status, last-event, and hours accumulation for an off event with a
	// duration) in a single transaction. Creates the machine if unknown;
	// returns whether it did.
	ApplyPointage(ctx context.Context, event *PointageEvent) (bool, error)

	GetPointages(ctx context.Context, filters EventFilters) ([]PointageEvent, error)

	// Alert operations
	CreateAlert(ctx context.Context, alert *Alert) error
	GetAlerts(ctx context.Context, filters AlertFilters) ([]Alert, error)
	ResolveAlert(ctx context.Context, id string) error

	// ResetDailyHours zeroes every machine's daily hour counter. Invoked
	// by an external rollover job, never by the router.
	ResetDailyHours(ctx context.Context) error

	// Close the database connection
	Close() error
}
