// internal/agent/agent.go
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"pointaged/internal/database"
	"pointaged/internal/duration"
	"pointaged/internal/protocol"
)

// Options configures the agent.
type Options struct {
	ServerURL         string // WebSocket endpoint, e.g. ws://server:8000/ws/agent
	APIURL            string // HTTP base for the fallback path, e.g. http://server:8000
	IdentityPath      string
	HeartbeatInterval time.Duration
}

// Agent reports this machine's on and off events to the server. It
// clocks on at startup, heartbeats while running, and clocks off with
// the session duration on shutdown.
type Agent struct {
	opts     Options
	identity *Identity
	tracker  *Tracker
	ws       *WSClient
	sysInfo  *database.SystemInfo
	addr     string

	// startPending is set until the initial on-event has reached the
	// server; reconnects before that retry it.
	startPending atomic.Bool

	httpClient *http.Client
}

func New(opts Options) (*Agent, error) {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}

	identity, err := LoadOrCreateIdentity(opts.IdentityPath)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		opts:     opts,
		identity: identity,
		tracker:  NewTracker(),
		addr:     LocalAddr(),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	a.ws = NewWSClient(opts.ServerURL, a)
	return a, nil
}

// Run starts the session and blocks until the context is cancelled,
// then clocks off.
func (a *Agent) Run(ctx context.Context) error {
	a.sysInfo = CollectSystemInfo(ctx)

	if err := a.tracker.Start(); err != nil {
		return err
	}
	a.startPending.Store(true)

	logrus.WithFields(logrus.Fields{
		"machine": a.identity.MachineID,
		"name":    a.identity.MachineName,
		"addr":    a.addr,
	}).Info("Agent starting")

	go a.ws.Run(ctx)

	ticker := time.NewTicker(a.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case <-ticker.C:
			a.sendHeartbeat()
		case msg := <-a.ws.Messages():
			a.handleMessage(msg)
		}
	}
}

// OnConnected registers the machine and, if the initial on-event has
// not been delivered yet, sends it.
func (a *Agent) OnConnected() {
	logrus.Info("Connected to server")

	err := a.ws.SendMessage(protocol.TypeRegister, protocol.RegisterPayload{
		MachineID:   a.identity.MachineID,
		MachineName: a.identity.MachineName,
		MachineAddr: a.addr,
		SystemInfo:  a.sysInfo,
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to register")
		return
	}

	if a.startPending.Load() {
		if err := a.sendPointage(database.KindOn, nil); err != nil {
			logrus.WithError(err).Error("Failed to send on-event")
			return
		}
		a.startPending.Store(false)
	}
}

func (a *Agent) OnDisconnected() {
	logrus.Warn("Disconnected from server")
}

func (a *Agent) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeRegistered:
		var payload protocol.RegisteredPayload
		if err := msg.ParsePayload(&payload); err == nil {
			logrus.WithFields(logrus.Fields{
				"machine": payload.MachineID,
				"new":     payload.IsNewMachine,
			}).Info("Registration confirmed")
		}
	case protocol.TypeHeartbeatAck:
		logrus.Debug("Heartbeat acknowledged")
	case protocol.TypePointageConfirmed:
		var payload protocol.PointageConfirmedPayload
		if err := msg.ParsePayload(&payload); err == nil {
			logrus.WithFields(logrus.Fields{
				"event": payload.ID,
				"kind":  payload.Kind,
			}).Info("Pointage confirmed")
		}
	case protocol.TypeCommand:
		var payload protocol.CommandPayload
		if err := msg.ParsePayload(&payload); err == nil {
			logrus.WithField("command", payload.Command).Info("Received command")
		}
	case protocol.TypeError:
		var payload protocol.ErrorPayload
		if err := msg.ParsePayload(&payload); err == nil {
			logrus.WithFields(logrus.Fields{
				"code":    payload.Code,
				"message": payload.Message,
			}).Warn("Server rejected message")
		}
	default:
		logrus.WithField("type", msg.Type).Debug("Ignoring message")
	}
}

func (a *Agent) sendHeartbeat() {
	if !a.ws.IsConnected() {
		return
	}
	err := a.ws.SendMessage(protocol.TypeHeartbeat, protocol.HeartbeatPayload{
		MachineID: a.identity.MachineID,
		Timestamp: time.Now(),
	})
	if err != nil {
		logrus.WithError(err).Debug("Failed to send heartbeat")
	}
}

func (a *Agent) sendPointage(kind string, d *duration.SessionDuration) error {
	return a.ws.SendMessage(protocol.TypePointage, protocol.PointagePayload{
		MachineID:   a.identity.MachineID,
		MachineName: a.identity.MachineName,
		MachineAddr: a.addr,
		Kind:        kind,
		Timestamp:   time.Now(),
		Duration:    d,
	})
}

// shutdown delivers the off-event best effort: over the socket when it
// is up, otherwise over HTTP.
func (a *Agent) shutdown() {
	d, ok := a.tracker.Stop()
	if !ok {
		a.ws.Close()
		return
	}

	logrus.WithField("session", d.Formatted).Info("Clocking off")

	if err := a.sendPointage(database.KindOff, &d); err != nil {
		logrus.WithError(err).Warn("WebSocket off-event failed, trying HTTP")
		if err := a.postPointageHTTP(database.KindOff, &d); err != nil {
			logrus.WithError(err).Error("Failed to deliver off-event")
		}
	}

	a.ws.Close()
}

// postPointageHTTP is the fallback path through the REST API.
func (a *Agent) postPointageHTTP(kind string, d *duration.SessionDuration) error {
	body := map[string]any{
		"machine_id":   a.identity.MachineID,
		"machine_name": a.identity.MachineName,
		"kind":         kind,
		"timestamp":    time.Now(),
	}
	if d != nil {
		body["seconds"] = d.Seconds
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := a.httpClient.Post(a.opts.APIURL+"/api/pointages", "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
