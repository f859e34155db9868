package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointaged/internal/config"
	"pointaged/internal/database"
	"pointaged/internal/duration"
	"pointaged/internal/protocol"
	"pointaged/internal/registry"
)

func newTestHub(t *testing.T) (*Hub, database.Store) {
	t.Helper()

	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	h := New(cfg.Hub, cfg.Database.StoreTimeout, store, registry.New(), nil)
	return h, store
}

// newTestClient builds a client without a socket; handlers only touch
// the send channel, which the test reads directly.
func newTestClient(h *Hub, kind clientKind) *client {
	return &client{
		hub:        h,
		send:       make(chan []byte, h.cfg.SendBuffer),
		connID:     uuid.New().String(),
		kind:       kind,
		remoteAddr: "10.0.0.1:51234",
		state:      stateConnected,
	}
}

func deliver(t *testing.T, h *Hub, c *client, msgType string, payload any) {
	t.Helper()
	msg, err := protocol.NewMessage(msgType, payload)
	require.NoError(t, err)
	h.handleMessage(c, msg)
}

func recvMessage(t *testing.T, c *client) *protocol.Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg protocol.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("expected a message, got none")
		return nil
	}
}

func registerMachine(t *testing.T, h *Hub, c *client, id string) {
	t.Helper()
	deliver(t, h, c, protocol.TypeRegister, protocol.RegisterPayload{
		MachineID:   id,
		MachineName: id,
		MachineAddr: "10.0.0.1",
	})
	msg := recvMessage(t, c)
	require.Equal(t, protocol.TypeRegistered, msg.Type)
}

func TestRegister(t *testing.T) {
	h, store := newTestHub(t)
	c := newTestClient(h, kindAgent)

	deliver(t, h, c, protocol.TypeRegister, protocol.RegisterPayload{
		MachineID:   "MACHINE-A",
		MachineName: "Machine A",
		MachineAddr: "10.0.0.1",
	})

	msg := recvMessage(t, c)
	require.Equal(t, protocol.TypeRegistered, msg.Type)

	var reply protocol.RegisteredPayload
	require.NoError(t, msg.ParsePayload(&reply))
	assert.Equal(t, "MACHINE-A", reply.MachineID)
	assert.True(t, reply.IsNewMachine)

	assert.True(t, h.registry.IsConnected("MACHINE-A"))
	assert.Equal(t, stateRegistered, c.state)

	machine, err := store.GetMachine(context.Background(), "MACHINE-A")
	require.NoError(t, err)
	assert.Equal(t, "Machine A", machine.Name)
	assert.True(t, machine.Connected)
}

func TestRegisterEmptyIdentity(t *testing.T) {
	h, _ := newTestHub(t)
	c := newTestClient(h, kindAgent)

	deliver(t, h, c, protocol.TypeRegister, protocol.RegisterPayload{})

	msg := recvMessage(t, c)
	require.Equal(t, protocol.TypeError, msg.Type)

	var errPayload protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&errPayload))
	assert.Equal(t, protocol.CodeValidation, errPayload.Code)

	// The connection stays unregistered.
	assert.Equal(t, stateConnected, c.state)
	assert.Equal(t, 0, h.registry.Count())
}

func TestRegisterSecondConnectionReplacesFirst(t *testing.T) {
	h, store := newTestHub(t)

	c1 := newTestClient(h, kindAgent)
	registerMachine(t, h, c1, "MACHINE-A")

	c2 := newTestClient(h, kindAgent)
	deliver(t, h, c2, protocol.TypeRegister, protocol.RegisterPayload{
		MachineID: "MACHINE-A",
	})
	msg := recvMessage(t, c2)
	require.Equal(t, protocol.TypeRegistered, msg.Type)

	var reply protocol.RegisteredPayload
	require.NoError(t, msg.ParsePayload(&reply))
	assert.False(t, reply.IsNewMachine)
	assert.Equal(t, 1, h.registry.Count())

	// The stale connection's teardown must not evict the newer one.
	h.handleDisconnect(c1)
	assert.True(t, h.registry.IsConnected("MACHINE-A"))

	machine, err := store.GetMachine(context.Background(), "MACHINE-A")
	require.NoError(t, err)
	assert.True(t, machine.Connected)
}

func TestHeartbeat(t *testing.T) {
	h, _ := newTestHub(t)

	t.Run("registered machine gets an ack", func(t *testing.T) {
		c := newTestClient(h, kindAgent)
		registerMachine(t, h, c, "MACHINE-HB")

		deliver(t, h, c, protocol.TypeHeartbeat, protocol.HeartbeatPayload{
			MachineID: "MACHINE-HB",
			Timestamp: time.Now(),
		})
		msg := recvMessage(t, c)
		assert.Equal(t, protocol.TypeHeartbeatAck, msg.Type)
	})

	t.Run("unknown machine is silently ignored", func(t *testing.T) {
		c := newTestClient(h, kindAgent)
		deliver(t, h, c, protocol.TypeHeartbeat, protocol.HeartbeatPayload{
			MachineID: "NEVER-SEEN",
		})
		select {
		case data := <-c.send:
			t.Fatalf("expected no reply, got %s", data)
		default:
		}
	})
}

func TestPointageRequiresRegistration(t *testing.T) {
	h, _ := newTestHub(t)
	c := newTestClient(h, kindAgent)

	deliver(t, h, c, protocol.TypePointage, protocol.PointagePayload{
		MachineID: "MACHINE-A",
		Kind:      database.KindOn,
	})

	msg := recvMessage(t, c)
	require.Equal(t, protocol.TypeError, msg.Type)

	var errPayload protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&errPayload))
	assert.Equal(t, protocol.CodeNotConnected, errPayload.Code)
}

func TestPointageUnknownKind(t *testing.T) {
	h, _ := newTestHub(t)
	c := newTestClient(h, kindAgent)
	registerMachine(t, h, c, "MACHINE-A")

	deliver(t, h, c, protocol.TypePointage, protocol.PointagePayload{
		MachineID: "MACHINE-A",
		Kind:      "reboot",
	})

	msg := recvMessage(t, c)
	require.Equal(t, protocol.TypeError, msg.Type)

	var errPayload protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&errPayload))
	assert.Equal(t, protocol.CodeValidation, errPayload.Code)
}

func TestPointageAccumulatesHours(t *testing.T) {
	h, store := newTestHub(t)
	c := newTestClient(h, kindAgent)
	registerMachine(t, h, c, "MACHINE-A")

	sessions := []int64{5400, 3600} // 1.5h then 1.0h
	for _, secs := range sessions {
		deliver(t, h, c, protocol.TypePointage, protocol.PointagePayload{
			MachineID: "MACHINE-A",
			Kind:      database.KindOn,
			Timestamp: time.Now(),
		})
		msg := recvMessage(t, c)
		require.Equal(t, protocol.TypePointageConfirmed, msg.Type)

		d, err := duration.Compute(secs)
		require.NoError(t, err)
		deliver(t, h, c, protocol.TypePointage, protocol.PointagePayload{
			MachineID: "MACHINE-A",
			Kind:      database.KindOff,
			Timestamp: time.Now(),
			Duration:  &d,
		})
		msg = recvMessage(t, c)
		require.Equal(t, protocol.TypePointageConfirmed, msg.Type)
	}

	machine, err := store.GetMachine(context.Background(), "MACHINE-A")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, machine.HoursToday, 0.001)
	assert.Equal(t, database.StatusInactive, machine.Status)
}

func TestStatusQuery(t *testing.T) {
	h, _ := newTestHub(t)
	c := newTestClient(h, kindAgent)
	registerMachine(t, h, c, "MACHINE-A")

	deliver(t, h, c, protocol.TypeStatusQuery, protocol.StatusQueryPayload{
		MachineID: "MACHINE-A",
	})

	msg := recvMessage(t, c)
	require.Equal(t, protocol.TypeStatusUpdate, msg.Type)

	var status protocol.StatusUpdatePayload
	require.NoError(t, msg.ParsePayload(&status))
	assert.Equal(t, "MACHINE-A", status.MachineID)
}

func TestStatusQueryRequiresRegistration(t *testing.T) {
	h, _ := newTestHub(t)
	c := newTestClient(h, kindAgent)

	deliver(t, h, c, protocol.TypeStatusQuery, protocol.StatusQueryPayload{
		MachineID: "MACHINE-A",
	})

	msg := recvMessage(t, c)
	require.Equal(t, protocol.TypeError, msg.Type)

	var errPayload protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&errPayload))
	assert.Equal(t, protocol.CodeNotConnected, errPayload.Code)
}

func TestDisconnectAfterDashboardSubscribe(t *testing.T) {
	h, store := newTestHub(t)

	// An agent that also subscribes as a dashboard must still be
	// evicted from the registry when its connection closes.
	c := newTestClient(h, kindAgent)
	registerMachine(t, h, c, "MACHINE-A")

	deliver(t, h, c, protocol.TypeSubscribeDashboard, struct{}{})
	msg := recvMessage(t, c)
	require.Equal(t, protocol.TypeConnectedMachines, msg.Type)

	h.handleDisconnect(c)

	assert.False(t, h.registry.IsConnected("MACHINE-A"))

	machine, err := store.GetMachine(context.Background(), "MACHINE-A")
	require.NoError(t, err)
	assert.False(t, machine.Connected)
}

func TestDashboardSubscribe(t *testing.T) {
	h, _ := newTestHub(t)

	agent := newTestClient(h, kindAgent)
	registerMachine(t, h, agent, "MACHINE-A")

	dash := newTestClient(h, kindDashboard)
	deliver(t, h, dash, protocol.TypeSubscribeDashboard, struct{}{})

	msg := recvMessage(t, dash)
	require.Equal(t, protocol.TypeConnectedMachines, msg.Type)

	var snapshot protocol.ConnectedMachinesPayload
	require.NoError(t, msg.ParsePayload(&snapshot))
	assert.Equal(t, 1, snapshot.Count)
	assert.Contains(t, snapshot.Machines, "MACHINE-A")

	// New events reach the subscribed dashboard.
	deliver(t, h, agent, protocol.TypePointage, protocol.PointagePayload{
		MachineID: "MACHINE-A",
		Kind:      database.KindOn,
	})
	recvMessage(t, agent) // pointage_confirmed

	msg = recvMessage(t, dash)
	assert.Equal(t, protocol.TypeNewPointage, msg.Type)
}

func TestDisconnectWithoutRegistration(t *testing.T) {
	h, _ := newTestHub(t)
	c := newTestClient(h, kindAgent)

	// Must not panic or touch the registry.
	h.handleDisconnect(c)
	h.handleDisconnect(c)
	assert.Equal(t, 0, h.registry.Count())
}

func TestDisconnectMarksMachine(t *testing.T) {
	h, store := newTestHub(t)

	dash := newTestClient(h, kindDashboard)
	deliver(t, h, dash, protocol.TypeSubscribeDashboard, struct{}{})
	recvMessage(t, dash) // connected_machines

	c := newTestClient(h, kindAgent)
	registerMachine(t, h, c, "MACHINE-A")
	recvMessage(t, dash) // machine_connected

	h.handleDisconnect(c)

	assert.False(t, h.registry.IsConnected("MACHINE-A"))

	machine, err := store.GetMachine(context.Background(), "MACHINE-A")
	require.NoError(t, err)
	assert.False(t, machine.Connected)

	msg := recvMessage(t, dash)
	assert.Equal(t, protocol.TypeMachineDisconnected, msg.Type)
}

func TestZeroSubscriberBroadcast(t *testing.T) {
	h, _ := newTestHub(t)
	c := newTestClient(h, kindAgent)

	// No dashboards subscribed; registration must still succeed.
	registerMachine(t, h, c, "MACHINE-A")
	assert.True(t, h.registry.IsConnected("MACHINE-A"))
}

func TestSendCommand(t *testing.T) {
	h, _ := newTestHub(t)

	err := h.SendCommand("MACHINE-A", "shutdown", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	c := newTestClient(h, kindAgent)
	registerMachine(t, h, c, "MACHINE-A")

	require.NoError(t, h.SendCommand("MACHINE-A", "shutdown", map[string]any{"delay": 5}))

	msg := recvMessage(t, c)
	require.Equal(t, protocol.TypeCommand, msg.Type)

	var cmd protocol.CommandPayload
	require.NoError(t, msg.ParsePayload(&cmd))
	assert.Equal(t, "shutdown", cmd.Command)
}

func TestConcurrentRegistrations(t *testing.T) {
	h, store := newTestHub(t)

	dash := newTestClient(h, kindDashboard)
	deliver(t, h, dash, protocol.TypeSubscribeDashboard, struct{}{})
	recvMessage(t, dash) // connected_machines

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newTestClient(h, kindAgent)
			deliver(t, h, c, protocol.TypeRegister, protocol.RegisterPayload{
				MachineID: fmt.Sprintf("MACHINE-%03d", i),
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, h.registry.Count())

	machines, err := store.GetMachines(context.Background(), database.MachineFilters{})
	require.NoError(t, err)
	assert.Len(t, machines, 100)

	// Every identity announced to the dashboard exactly once.
	seen := make(map[string]int)
	for i := 0; i < 100; i++ {
		msg := recvMessage(t, dash)
		require.Equal(t, protocol.TypeMachineConnected, msg.Type)

		var payload protocol.MachineConnectedPayload
		require.NoError(t, msg.ParsePayload(&payload))
		seen[payload.MachineID]++
	}
	assert.Len(t, seen, 100)
	for id, n := range seen {
		assert.Equal(t, 1, n, "identity %s announced %d times", id, n)
	}
}

func TestConcurrentPointagesSameMachine(t *testing.T) {
	h, store := newTestHub(t)
	c := newTestClient(h, kindAgent)
	registerMachine(t, h, c, "MACHINE-A")

	const workers = 10
	d, err := duration.Compute(900) // 0.25h each
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliver(t, h, c, protocol.TypePointage, protocol.PointagePayload{
				MachineID: "MACHINE-A",
				Kind:      database.KindOff,
				Timestamp: time.Now(),
				Duration:  &d,
			})
		}()
	}
	wg.Wait()

	machine, err := store.GetMachine(context.Background(), "MACHINE-A")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, machine.HoursToday, 0.001)

	events, err := store.GetPointages(context.Background(), database.EventFilters{MachineID: "MACHINE-A"})
	require.NoError(t, err)
	assert.Len(t, events, workers)
}
