package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointaged/internal/config"
	"pointaged/internal/database"
	"pointaged/internal/hub"
	"pointaged/internal/registry"
)

func newTestServer(t *testing.T) (*Server, database.Store) {
	t.Helper()

	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	eventHub := hub.New(cfg.Hub, cfg.Database.StoreTimeout, store, registry.New(), nil)
	return NewServer(cfg, store, eventHub, nil), store
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestResolveAlertRoute(t *testing.T) {
	s, store := newTestServer(t)

	alert := &database.Alert{
		Kind:      database.AlertWarning,
		MachineID: "MACHINE-A",
		Message:   "no activity for 24h",
		Timestamp: time.Now(),
	}
	require.NoError(t, store.CreateAlert(context.Background(), alert))

	w := doJSON(t, s, http.MethodPut, "/api/alerts/"+alert.ID+"/resolve", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resolved := false
	alerts, err := store.GetAlerts(context.Background(), database.AlertFilters{Resolved: &resolved})
	require.NoError(t, err)
	assert.Empty(t, alerts)

	w = doJSON(t, s, http.MethodPut, "/api/alerts/missing/resolve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreatePointageFallback(t *testing.T) {
	s, store := newTestServer(t)

	t.Run("zero-second session keeps its duration", func(t *testing.T) {
		seconds := int64(0)
		w := doJSON(t, s, http.MethodPost, "/api/pointages", map[string]any{
			"machine_id": "MACHINE-A",
			"kind":       database.KindOff,
			"seconds":    seconds,
		})
		require.Equal(t, http.StatusCreated, w.Code)

		events, err := store.GetPointages(context.Background(), database.EventFilters{MachineID: "MACHINE-A"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.NotNil(t, events[0].Duration)
		assert.Zero(t, events[0].Duration.Seconds)
		assert.Equal(t, "00:00:00", events[0].Duration.Formatted)
	})

	t.Run("absent seconds means no duration", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/pointages", map[string]any{
			"machine_id": "MACHINE-B",
			"kind":       database.KindOff,
		})
		require.Equal(t, http.StatusCreated, w.Code)

		events, err := store.GetPointages(context.Background(), database.EventFilters{MachineID: "MACHINE-B"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Nil(t, events[0].Duration)
	})

	t.Run("auto-creates unknown machine", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/pointages", map[string]any{
			"machine_id": "MACHINE-C",
			"kind":       database.KindOn,
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var resp struct {
			IsNewMachine bool `json:"is_new_machine"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.IsNewMachine)

		machine, err := store.GetMachine(context.Background(), "MACHINE-C")
		require.NoError(t, err)
		assert.Equal(t, database.StatusActive, machine.Status)
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/pointages", map[string]any{
			"machine_id": "MACHINE-D",
			"kind":       "reboot",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
