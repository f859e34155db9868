// internal/database/models.go
package database

import (
	"time"

	"pointaged/internal/duration"
)

// Machine status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Pointage event kinds.
const (
	KindOn  = "on"
	KindOff = "off"
)

// Alert kinds.
const (
	AlertWarning  = "warning"
	AlertInactive = "inactive"
	AlertError    = "error"
)

// Machine is the persisted status projection of a tracked machine. The
// live connection state lives in the registry; this row only carries
// what survives a disconnect.
type Machine struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Address       string      `json:"address"`
	Status        string      `json:"status"`
	LastEvent     time.Time   `json:"last_event"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	HoursToday    float64     `json:"hours_today"`
	Connected     bool        `json:"connected"`
	SystemInfo    *SystemInfo `json:"system_info,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// SystemInfo is the attribute blob an agent declares at registration.
type SystemInfo struct {
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Arch            string `json:"arch"`
}

// PointageEvent is a single clock event. Append-only: rows are never
// updated after creation.
type PointageEvent struct {
	ID          string                    `json:"id"`
	MachineID   string                    `json:"machine_id"`
	MachineName string                    `json:"machine_name"`
	Kind        string                    `json:"kind"`
	Timestamp   time.Time                 `json:"timestamp"`
	SourceAddr  string                    `json:"source_addr"`
	Duration    *duration.SessionDuration `json:"session_duration,omitempty"`
}

// Alert is produced by the inactivity sweep, not by the event router.
type Alert struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	MachineID   string    `json:"machine_id"`
	MachineName string    `json:"machine_name"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Resolved    bool      `json:"resolved"`
}

type MachineFilters struct {
	Status    string
	Connected *bool
}

type EventFilters struct {
	MachineID string
	Kind      string
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

type AlertFilters struct {
	MachineID string
	Kind      string
	Resolved  *bool
}
