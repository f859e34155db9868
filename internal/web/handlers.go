// internal/web/handlers.go
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pointaged/internal/database"
	"pointaged/internal/duration"
	"pointaged/internal/hub"
)

func (s *Server) getMachines(c *gin.Context) {
	filters := database.MachineFilters{
		Status: c.Query("status"),
	}
	if v := c.Query("connected"); v != "" {
		connected := v == "true"
		filters.Connected = &connected
	}

	machines, err := s.store.GetMachines(c.Request.Context(), filters)
	if err != nil {
		logrus.WithError(err).Error("Failed to get machines")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get machines"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  machines,
		"count": len(machines),
	})
}

func (s *Server) getMachine(c *gin.Context) {
	id := c.Param("id")

	machine, err := s.store.GetMachine(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Machine not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get machine"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": machine})
}

func (s *Server) createMachine(c *gin.Context) {
	var req database.Machine
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	if err := s.store.CreateMachine(c.Request.Context(), &req); err != nil {
		logrus.WithError(err).Error("Failed to create machine")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create machine"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": req})
}

func (s *Server) updateMachine(c *gin.Context) {
	id := c.Param("id")

	if _, err := s.store.GetMachine(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Machine not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get machine"})
		return
	}

	var req database.Machine
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.ID = id

	if err := s.store.UpdateMachine(c.Request.Context(), &req); err != nil {
		logrus.WithError(err).Error("Failed to update machine")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update machine"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": req})
}

func (s *Server) deleteMachine(c *gin.Context) {
	id := c.Param("id")

	if err := s.store.DeleteMachine(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete machine"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Machine deleted"})
}

func (s *Server) sendCommand(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		Command string         `json:"command" binding:"required"`
		Data    map[string]any `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.hub.SendCommand(id, req.Command, req.Data); err != nil {
		if errors.Is(err, hub.ErrNotConnected) {
			c.JSON(http.StatusConflict, gin.H{"error": "Machine not connected"})
			return
		}
		logrus.WithError(err).Error("Failed to send command")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send command"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Command sent"})
}

func (s *Server) getPointages(c *gin.Context) {
	filters := database.EventFilters{
		MachineID: c.Query("machine_id"),
		Kind:      c.Query("kind"),
	}
	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filters.Since = &ts
	}
	if v := c.Query("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "until must be RFC3339"})
			return
		}
		filters.Until = &ts
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filters.Limit = limit
	}

	events, err := s.store.GetPointages(c.Request.Context(), filters)
	if err != nil {
		logrus.WithError(err).Error("Failed to get pointages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get pointages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  events,
		"count": len(events),
	})
}

// createPointage is the HTTP fallback for agents that cannot hold a
// WebSocket connection. It applies the same semantics as the
// WebSocket path, including machine auto-creation.
func (s *Server) createPointage(c *gin.Context) {
	var req struct {
		MachineID   string    `json:"machine_id" binding:"required"`
		MachineName string    `json:"machine_name"`
		Kind        string    `json:"kind" binding:"required"`
		Timestamp   time.Time `json:"timestamp"`
		Seconds     *int64    `json:"seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind != database.KindOn && req.Kind != database.KindOff {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be on or off"})
		return
	}

	event := &database.PointageEvent{
		MachineID:   req.MachineID,
		MachineName: req.MachineName,
		Kind:        req.Kind,
		Timestamp:   req.Timestamp,
		SourceAddr:  c.ClientIP(),
	}
	// A zero-second session is a valid duration; only an absent field
	// means no duration at all.
	if req.Kind == database.KindOff && req.Seconds != nil {
		d, err := duration.Compute(*req.Seconds)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		event.Duration = &d
	}

	isNew, err := s.store.ApplyPointage(c.Request.Context(), event)
	if err != nil {
		logrus.WithError(err).WithField("machine", req.MachineID).Error("Failed to store pointage")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store pointage"})
		return
	}

	if s.metrics != nil {
		s.metrics.RecordPointage(event.Kind, "http")
	}
	s.hub.PublishPointage(event)

	c.JSON(http.StatusCreated, gin.H{
		"data":           event,
		"is_new_machine": isNew,
	})
}

func (s *Server) getAlerts(c *gin.Context) {
	filters := database.AlertFilters{
		MachineID: c.Query("machine_id"),
		Kind:      c.Query("kind"),
	}
	if v := c.Query("resolved"); v != "" {
		resolved := v == "true"
		filters.Resolved = &resolved
	}

	alerts, err := s.store.GetAlerts(c.Request.Context(), filters)
	if err != nil {
		logrus.WithError(err).Error("Failed to get alerts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  alerts,
		"count": len(alerts),
	})
}

func (s *Server) resolveAlert(c *gin.Context) {
	id := c.Param("id")

	if err := s.store.ResolveAlert(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve alert"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert resolved"})
}

func (s *Server) getStatistics(c *gin.Context) {
	machines, err := s.store.GetMachines(c.Request.Context(), database.MachineFilters{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get machines"})
		return
	}

	stats := gin.H{}
	active, connected := 0, 0
	totalHours := 0.0
	for _, machine := range machines {
		if machine.Status == database.StatusActive {
			active++
		}
		if machine.Connected {
			connected++
		}
		totalHours += machine.HoursToday
	}
	stats["machines_total"] = len(machines)
	stats["machines_active"] = active
	stats["machines_connected"] = connected
	stats["hours_today"] = totalHours

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	events, err := s.store.GetPointages(c.Request.Context(), database.EventFilters{Since: &midnight})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get pointages"})
		return
	}
	stats["pointages_today"] = len(events)

	resolved := false
	alerts, err := s.store.GetAlerts(c.Request.Context(), database.AlertFilters{Resolved: &resolved})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get alerts"})
		return
	}
	stats["alerts_unresolved"] = len(alerts)

	c.JSON(http.StatusOK, gin.H{"data": stats})
}
