// internal/alerts/sweep.go
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pointaged/internal/config"
	"pointaged/internal/database"
	"pointaged/internal/metrics"
)

// Sweeper periodically raises alerts for machines that have gone
// quiet. A machine idle past WarnAfter gets a warning alert, past
// InactiveAfter an inactive alert. One unresolved alert per kind per
// machine at a time.
type Sweeper struct {
	store     database.Store
	cfg       config.AlertsConfig
	collector *metrics.Collector
	now       func() time.Time
}

func NewSweeper(store database.Store, cfg config.AlertsConfig, collector *metrics.Collector) *Sweeper {
	return &Sweeper{
		store:     store,
		cfg:       cfg,
		collector: collector,
		now:       time.Now,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	logrus.WithFields(logrus.Fields{
		"interval":       s.cfg.SweepInterval,
		"warn_after":     s.cfg.WarnAfter,
		"inactive_after": s.cfg.InactiveAfter,
	}).Info("Starting alert sweeper")

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if err := s.Sweep(ctx); err != nil {
			logrus.WithError(err).Error("Alert sweep failed")
		}

		select {
		case <-ctx.Done():
			logrus.Info("Alert sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass over all machines.
func (s *Sweeper) Sweep(ctx context.Context) error {
	machines, err := s.store.GetMachines(ctx, database.MachineFilters{})
	if err != nil {
		return fmt.Errorf("failed to list machines: %w", err)
	}

	now := s.now()
	for _, machine := range machines {
		if machine.Connected {
			continue
		}

		lastSeen := machine.LastEvent
		if machine.LastHeartbeat.After(lastSeen) {
			lastSeen = machine.LastHeartbeat
		}
		if lastSeen.IsZero() {
			lastSeen = machine.CreatedAt
		}

		idle := now.Sub(lastSeen)
		switch {
		case idle >= s.cfg.InactiveAfter:
			if err := s.raise(ctx, &machine, database.AlertInactive, idle); err != nil {
				return err
			}
		case idle >= s.cfg.WarnAfter:
			if err := s.raise(ctx, &machine, database.AlertWarning, idle); err != nil {
				return err
			}
		}
	}

	return nil
}

// raise creates an alert unless an unresolved one of the same kind
// already exists for the machine.
func (s *Sweeper) raise(ctx context.Context, machine *database.Machine, kind string, idle time.Duration) error {
	resolved := false
	existing, err := s.store.GetAlerts(ctx, database.AlertFilters{
		MachineID: machine.ID,
		Kind:      kind,
		Resolved:  &resolved,
	})
	if err != nil {
		return fmt.Errorf("failed to check existing alerts: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	alert := &database.Alert{
		Kind:        kind,
		MachineID:   machine.ID,
		MachineName: machine.Name,
		Message:     fmt.Sprintf("machine %s has had no activity for %s", machine.Name, idle.Round(time.Minute)),
		Timestamp:   s.now(),
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	if s.collector != nil {
		s.collector.RecordAlert(kind)
	}

	logrus.WithFields(logrus.Fields{
		"machine": machine.ID,
		"kind":    kind,
		"idle":    idle,
	}).Warn("Alert raised")

	return nil
}
