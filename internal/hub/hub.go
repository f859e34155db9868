// internal/hub/hub.go
package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pointaged/internal/config"
	"pointaged/internal/database"
	"pointaged/internal/metrics"
	"pointaged/internal/protocol"
	"pointaged/internal/registry"
)

// ErrNotConnected is returned when a command targets a machine without
// a live connection.
var ErrNotConnected = errors.New("machine not connected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub routes WebSocket messages between agents, dashboards, the
// connection registry, and the store.
type Hub struct {
	cfg          config.HubConfig
	storeTimeout time.Duration
	store        database.Store
	registry     *registry.Registry
	groups       *groups
	collector    *metrics.Collector
}

func New(cfg config.HubConfig, storeTimeout time.Duration, store database.Store, reg *registry.Registry, collector *metrics.Collector) *Hub {
	return &Hub{
		cfg:          cfg,
		storeTimeout: storeTimeout,
		store:        store,
		registry:     reg,
		groups:       newGroups(),
		collector:    collector,
	}
}

func (h *Hub) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.storeTimeout)
}

// ServeAgentWS upgrades an agent connection and starts its pumps.
func (h *Hub) ServeAgentWS(w http.ResponseWriter, r *http.Request) {
	h.serveWS(w, r, kindAgent)
}

// ServeDashboardWS upgrades a dashboard connection and starts its pumps.
func (h *Hub) ServeDashboardWS(w http.ResponseWriter, r *http.Request) {
	h.serveWS(w, r, kindDashboard)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, kind clientKind) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.cfg.SendBuffer),
		connID:     uuid.New().String(),
		kind:       kind,
		remoteAddr: r.RemoteAddr,
		state:      stateConnected,
	}

	logrus.WithFields(logrus.Fields{
		"conn":   c.connID,
		"remote": c.remoteAddr,
	}).Debug("WebSocket client connected")

	go c.writePump()
	go c.readPump()
}

// handleMessage dispatches one inbound message. The message kinds form
// a closed set; anything else is rejected.
func (h *Hub) handleMessage(c *client, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeRegister:
		h.handleRegister(c, msg)
	case protocol.TypeHeartbeat:
		h.handleHeartbeat(c, msg)
	case protocol.TypePointage:
		h.handlePointage(c, msg)
	case protocol.TypeStatusQuery:
		h.handleStatusQuery(c, msg)
	case protocol.TypeSubscribeDashboard:
		h.handleSubscribeDashboard(c)
	default:
		c.sendError(protocol.CodeUnknownType, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (h *Hub) handleRegister(c *client, msg *protocol.Message) {
	var payload protocol.RegisterPayload
	if err := msg.ParsePayload(&payload); err != nil {
		c.sendError(protocol.CodeValidation, "malformed register payload")
		return
	}
	if payload.MachineID == "" {
		c.sendError(protocol.CodeValidation, "machine_id is required")
		return
	}
	if payload.MachineAddr == "" {
		payload.MachineAddr = c.remoteAddr
	}

	unlock := h.registry.LockIdentity(payload.MachineID)
	defer unlock()

	// Persist first. A store failure must leave the registry untouched
	// so a retry starts from a clean slate.
	ctx, cancel := h.storeCtx()
	created, err := h.store.UpsertRegistration(ctx, payload.MachineID, payload.MachineName, payload.MachineAddr, payload.SystemInfo)
	cancel()
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("upsert_registration", "error").Inc()
		logrus.WithError(err).WithField("machine", payload.MachineID).Error("Failed to persist registration")
		c.sendError(protocol.CodeStoreError, "registration could not be stored")
		return
	}
	metrics.DatabaseOperations.WithLabelValues("upsert_registration", "success").Inc()

	now := time.Now()
	replaced := h.registry.Register(&registry.ConnectionRecord{
		Identity:      payload.MachineID,
		ConnID:        c.connID,
		Name:          payload.MachineName,
		Address:       payload.MachineAddr,
		SystemInfo:    payload.SystemInfo,
		ConnectedAt:   now,
		LastHeartbeat: now,
	})

	c.identity = payload.MachineID
	c.state = stateRegistered
	h.groups.join(payload.MachineID, c)

	if h.collector != nil {
		h.collector.SetConnectedAgents(h.registry.Count())
	}

	logrus.WithFields(logrus.Fields{
		"machine":  payload.MachineID,
		"name":     payload.MachineName,
		"replaced": replaced,
		"created":  created,
	}).Info("Machine registered")

	c.sendMessage(protocol.TypeRegistered, protocol.RegisteredPayload{
		MachineID:    payload.MachineID,
		IsNewMachine: created,
		Timestamp:    now,
	})

	h.publishDashboard(protocol.TypeMachineConnected, protocol.MachineConnectedPayload{
		MachineID:   payload.MachineID,
		MachineName: payload.MachineName,
		MachineAddr: payload.MachineAddr,
		Timestamp:   now,
	})
}

func (h *Hub) handleHeartbeat(c *client, msg *protocol.Message) {
	var payload protocol.HeartbeatPayload
	if err := msg.ParsePayload(&payload); err != nil || payload.MachineID == "" {
		// Heartbeats from unknown senders carry no actionable state.
		return
	}

	ts := payload.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	if !h.registry.TouchHeartbeat(payload.MachineID, ts) {
		logrus.WithField("machine", payload.MachineID).Debug("Heartbeat from unregistered machine ignored")
		return
	}

	ctx, cancel := h.storeCtx()
	if err := h.store.TouchHeartbeat(ctx, payload.MachineID, ts); err != nil {
		logrus.WithError(err).WithField("machine", payload.MachineID).Warn("Failed to persist heartbeat")
	}
	cancel()

	if h.collector != nil {
		h.collector.RecordHeartbeat()
	}

	c.sendMessage(protocol.TypeHeartbeatAck, protocol.HeartbeatAckPayload{
		Timestamp: time.Now(),
	})
}

func (h *Hub) handlePointage(c *client, msg *protocol.Message) {
	if c.state != stateRegistered {
		c.sendError(protocol.CodeNotConnected, "register before sending pointage events")
		return
	}

	var payload protocol.PointagePayload
	if err := msg.ParsePayload(&payload); err != nil {
		c.sendError(protocol.CodeValidation, "malformed pointage payload")
		return
	}
	if payload.MachineID == "" {
		c.sendError(protocol.CodeValidation, "machine_id is required")
		return
	}
	if payload.Kind != database.KindOn && payload.Kind != database.KindOff {
		c.sendError(protocol.CodeValidation, fmt.Sprintf("unknown pointage kind %q", payload.Kind))
		return
	}

	ts := payload.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	event := &database.PointageEvent{
		ID:          uuid.New().String(),
		MachineID:   payload.MachineID,
		MachineName: payload.MachineName,
		Kind:        payload.Kind,
		Timestamp:   ts,
		SourceAddr:  payload.MachineAddr,
		Duration:    payload.Duration,
	}
	if event.SourceAddr == "" {
		event.SourceAddr = c.remoteAddr
	}

	unlock := h.registry.LockIdentity(payload.MachineID)
	ctx, cancel := h.storeCtx()
	_, err := h.store.ApplyPointage(ctx, event)
	cancel()
	unlock()
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("apply_pointage", "error").Inc()
		logrus.WithError(err).WithFields(logrus.Fields{
			"machine": payload.MachineID,
			"kind":    payload.Kind,
		}).Error("Failed to store pointage event")
		c.sendError(protocol.CodeStoreError, "pointage could not be stored")
		return
	}
	metrics.DatabaseOperations.WithLabelValues("apply_pointage", "success").Inc()

	if h.collector != nil {
		h.collector.RecordPointage(event.Kind, "websocket")
	}

	logrus.WithFields(logrus.Fields{
		"machine": event.MachineID,
		"kind":    event.Kind,
		"event":   event.ID,
	}).Info("Pointage stored")

	c.sendMessage(protocol.TypePointageConfirmed, protocol.PointageConfirmedPayload{
		ID:        event.ID,
		MachineID: event.MachineID,
		Kind:      event.Kind,
		Timestamp: event.Timestamp,
		Duration:  event.Duration,
	})

	h.PublishPointage(event)
}

func (h *Hub) handleStatusQuery(c *client, msg *protocol.Message) {
	if c.state != stateRegistered {
		c.sendError(protocol.CodeNotConnected, "register before querying status")
		return
	}

	var payload protocol.StatusQueryPayload
	if err := msg.ParsePayload(&payload); err != nil || payload.MachineID == "" {
		c.sendError(protocol.CodeValidation, "machine_id is required")
		return
	}

	ctx, cancel := h.storeCtx()
	machine, err := h.store.GetMachine(ctx, payload.MachineID)
	cancel()
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.sendError(protocol.CodeValidation, fmt.Sprintf("unknown machine %q", payload.MachineID))
		} else {
			c.sendError(protocol.CodeStoreError, "status could not be read")
		}
		return
	}

	c.sendMessage(protocol.TypeStatusUpdate, protocol.StatusUpdatePayload{
		MachineID:  machine.ID,
		Status:     machine.Status,
		LastEvent:  machine.LastEvent,
		HoursToday: machine.HoursToday,
	})
}

func (h *Hub) handleSubscribeDashboard(c *client) {
	c.kind = kindDashboard
	c.state = stateRegistered
	h.groups.join(dashboardGroup, c)

	if h.collector != nil {
		h.collector.RecordDashboardClient(1)
	}

	identities := h.registry.Identities()
	c.sendMessage(protocol.TypeConnectedMachines, protocol.ConnectedMachinesPayload{
		Machines: identities,
		Count:    len(identities),
	})
}

// handleDisconnect runs when a connection's readPump exits. It is safe
// for connections that never registered, and a machine that already
// reconnected elsewhere keeps its newer registration. Registry cleanup
// keys off the identity, not the client kind, so a registered agent
// that also subscribed as a dashboard is still evicted.
func (h *Hub) handleDisconnect(c *client) {
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed

	h.groups.leaveAll(c)

	if c.kind == kindDashboard {
		if h.collector != nil {
			h.collector.RecordDashboardClient(-1)
		}
	}
	if c.identity == "" {
		return
	}

	unlock := h.registry.LockIdentity(c.identity)
	identity, removed := h.registry.RemoveConn(c.connID)
	if removed {
		ctx, cancel := h.storeCtx()
		if err := h.store.MarkDisconnected(ctx, identity); err != nil {
			logrus.WithError(err).WithField("machine", identity).Warn("Failed to mark machine disconnected")
		}
		cancel()
	}
	unlock()

	if !removed {
		return
	}

	if h.collector != nil {
		h.collector.SetConnectedAgents(h.registry.Count())
	}

	logrus.WithField("machine", identity).Info("Machine disconnected")

	h.publishDashboard(protocol.TypeMachineDisconnected, protocol.MachineDisconnectedPayload{
		MachineID: identity,
		Timestamp: time.Now(),
	})
}

// PublishPointage fans a stored event out to the dashboards and to the
// machine's own subscriber group.
func (h *Hub) PublishPointage(event *database.PointageEvent) {
	payload := protocol.NewPointagePayload{
		ID:          event.ID,
		MachineID:   event.MachineID,
		MachineName: event.MachineName,
		Kind:        event.Kind,
		Timestamp:   event.Timestamp,
		Duration:    event.Duration,
	}
	h.publishDashboard(protocol.TypeNewPointage, payload)
}

func (h *Hub) publishDashboard(msgType string, payload any) {
	if _, err := h.groups.publish(dashboardGroup, msgType, payload); err != nil {
		logrus.WithError(err).WithField("type", msgType).Error("Failed to publish broadcast")
		return
	}
	if h.collector != nil {
		h.collector.RecordBroadcast(msgType)
	}
}

// SendCommand delivers an out-of-band command to one connected
// machine. It returns ErrNotConnected when the machine holds no live
// connection.
func (h *Hub) SendCommand(identity, command string, data map[string]any) error {
	if !h.registry.IsConnected(identity) {
		return fmt.Errorf("%w: %s", ErrNotConnected, identity)
	}

	delivered, err := h.groups.publish(identity, protocol.TypeCommand, protocol.CommandPayload{
		Command:   command,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	if delivered == 0 {
		return fmt.Errorf("%w: %s", ErrNotConnected, identity)
	}
	return nil
}

// ConnectedIdentities exposes the registry snapshot for HTTP handlers.
func (h *Hub) ConnectedIdentities() []string {
	return h.registry.Identities()
}

// IsConnected reports whether a machine holds a live connection.
func (h *Hub) IsConnected(identity string) bool {
	return h.registry.IsConnected(identity)
}
