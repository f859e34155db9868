// Package protocol defines the WebSocket message types shared between
// the pointage agents, the dashboards, and the server.
package protocol

import (
	"encoding/json"
	"time"

	"pointaged/internal/database"
	"pointaged/internal/duration"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given target.
func (m *Message) ParsePayload(target any) error {
	return json.Unmarshal(m.Payload, target)
}

// Message types (agent → server)
const (
	TypeRegister    = "register"
	TypeHeartbeat   = "heartbeat"
	TypePointage    = "pointage"
	TypeStatusQuery = "status_query"
)

// Message types (server → agent)
const (
	TypeRegistered        = "registered"
	TypeHeartbeatAck      = "heartbeat_ack"
	TypePointageConfirmed = "pointage_confirmed"
	TypeStatusUpdate      = "status_update"
	TypeCommand           = "command"
	TypeError             = "error"
)

// Message types (dashboard → server)
const (
	TypeSubscribeDashboard = "subscribe_dashboard"
)

// Message types (server → dashboard)
const (
	TypeConnectedMachines   = "connected_machines"
	TypeMachineConnected    = "machine_connected"
	TypeMachineDisconnected = "machine_disconnected"
	TypeNewPointage         = "new_pointage"
)

// Error codes carried in ErrorPayload.
const (
	CodeValidation   = "validation_error"
	CodeNotConnected = "not_connected"
	CodeStoreError   = "store_error"
	CodeUnknownType  = "unknown_type"
)

// RegisterPayload is sent by the agent when connecting.
type RegisterPayload struct {
	MachineID   string               `json:"machine_id"`
	MachineName string               `json:"machine_name"`
	MachineAddr string               `json:"machine_addr"`
	SystemInfo  *database.SystemInfo `json:"system_info,omitempty"`
}

// RegisteredPayload confirms a successful registration.
type RegisteredPayload struct {
	MachineID    string    `json:"machine_id"`
	IsNewMachine bool      `json:"is_new_machine"`
	Timestamp    time.Time `json:"timestamp"`
}

// HeartbeatPayload is sent periodically by the agent.
type HeartbeatPayload struct {
	MachineID string    `json:"machine_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatAckPayload echoes a heartbeat back to the agent.
type HeartbeatAckPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// PointagePayload carries a clock event from the agent.
type PointagePayload struct {
	MachineID   string                    `json:"machine_id"`
	MachineName string                    `json:"machine_name"`
	MachineAddr string                    `json:"machine_addr"`
	Kind        string                    `json:"kind"`
	Timestamp   time.Time                 `json:"timestamp"`
	Duration    *duration.SessionDuration `json:"session_duration,omitempty"`
}

// PointageConfirmedPayload acknowledges a stored clock event to its sender.
type PointageConfirmedPayload struct {
	ID        string                    `json:"id"`
	MachineID string                    `json:"machine_id"`
	Kind      string                    `json:"kind"`
	Timestamp time.Time                 `json:"timestamp"`
	Duration  *duration.SessionDuration `json:"session_duration,omitempty"`
}

// StatusQueryPayload asks the server for the sender's persisted status.
type StatusQueryPayload struct {
	MachineID string `json:"machine_id"`
}

// StatusUpdatePayload is the reply to a status query.
type StatusUpdatePayload struct {
	MachineID  string    `json:"machine_id"`
	Status     string    `json:"status"`
	LastEvent  time.Time `json:"last_event"`
	HoursToday float64   `json:"hours_today"`
}

// CommandPayload is an out-of-band instruction targeted at one machine.
type CommandPayload struct {
	Command   string         `json:"command"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorPayload reports a rejected message back to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectedMachinesPayload is the snapshot sent on dashboard subscription.
type ConnectedMachinesPayload struct {
	Machines []string `json:"machines"`
	Count    int      `json:"count"`
}

// MachineConnectedPayload notifies dashboards of a registration.
type MachineConnectedPayload struct {
	MachineID   string    `json:"machine_id"`
	MachineName string    `json:"machine_name"`
	MachineAddr string    `json:"machine_addr"`
	Timestamp   time.Time `json:"timestamp"`
}

// MachineDisconnectedPayload notifies dashboards of a disconnect.
type MachineDisconnectedPayload struct {
	MachineID string    `json:"machine_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPointagePayload notifies dashboards of a stored clock event.
type NewPointagePayload struct {
	ID          string                    `json:"id"`
	MachineID   string                    `json:"machine_id"`
	MachineName string                    `json:"machine_name"`
	Kind        string                    `json:"kind"`
	Timestamp   time.Time                 `json:"timestamp"`
	Duration    *duration.SessionDuration `json:"session_duration,omitempty"`
}
