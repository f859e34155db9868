// internal/database/boltstore.go - BoltDB implementation
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	MachinesBucket  = []byte("machines")
	PointagesBucket = []byte("pointages")
	AlertsBucket    = []byte("alerts")
	MetaBucket      = []byte("meta")
)

type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (Store, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{MachinesBucket, PointagesBucket, AlertsBucket, MetaBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) GetMachines(ctx context.Context, filters MachineFilters) ([]Machine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var machines []Machine

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MachinesBucket)
		return b.ForEach(func(k, v []byte) error {
			var machine Machine
			if err := json.Unmarshal(v, &machine); err != nil {
				return fmt.Errorf("failed to unmarshal machine %s: %w", k, err)
			}

			// Apply filters
			if filters.Status != "" && machine.Status != filters.Status {
				return nil
			}
			if filters.Connected != nil && machine.Connected != *filters.Connected {
				return nil
			}

			machines = append(machines, machine)
			return nil
		})
	})

	return machines, err
}

func (s *BoltStore) GetMachine(ctx context.Context, id string) (*Machine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var machine Machine

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MachinesBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &machine)
	})

	if err != nil {
		return nil, err
	}
	return &machine, nil
}

func (s *BoltStore) CreateMachine(ctx context.Context, machine *Machine) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if machine.Status == "" {
		machine.Status = StatusInactive
	}
	machine.CreatedAt = time.Now()
	machine.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		return putMachine(tx, machine)
	})
}

func (s *BoltStore) UpdateMachine(ctx context.Context, machine *Machine) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	machine.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		return putMachine(tx, machine)
	})
}

func (s *BoltStore) DeleteMachine(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MachinesBucket)
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) UpsertRegistration(ctx context.Context, id, name, addr string, info *SystemInfo) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	created := false
	now := time.Now()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		machine, err := getMachine(tx, id)
		if err == ErrNotFound {
			created = true
			machine = &Machine{
				ID:        id,
				Name:      name,
				CreatedAt: now,
			}
		} else if err != nil {
			return err
		}

		if name != "" {
			machine.Name = name
		}
		machine.Address = addr
		machine.Status = StatusActive
		machine.Connected = true
		machine.LastHeartbeat = now
		if info != nil {
			machine.SystemInfo = info
		}
		machine.UpdatedAt = now

		return putMachine(tx, machine)
	})

	return created, err
}

func (s *BoltStore) MarkDisconnected(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		machine, err := getMachine(tx, id)
		if err == ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		machine.Connected = false
		machine.Status = StatusInactive
		machine.UpdatedAt = time.Now()
		return putMachine(tx, machine)
	})
}

func (s *BoltStore) TouchHeartbeat(ctx context.Context, id string, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		machine, err := getMachine(tx, id)
		if err == ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		machine.LastHeartbeat = ts
		machine.UpdatedAt = time.Now()
		return putMachine(tx, machine)
	})
}

// ApplyPointage runs inside a single bbolt transaction, which is what
// makes the off-event hours accumulation atomic with the status flip.
func (s *BoltStore) ApplyPointage(ctx context.Context, event *PointageEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	created := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		machine, err := getMachine(tx, event.MachineID)
		if err == ErrNotFound {
			created = true
			name := event.MachineName
			if name == "" {
				name = "Machine-" + event.MachineID
			}
			machine = &Machine{
				ID:        event.MachineID,
				Name:      name,
				Address:   event.SourceAddr,
				CreatedAt: time.Now(),
			}
		} else if err != nil {
			return err
		}

		if event.MachineName == "" {
			event.MachineName = machine.Name
		}

		if event.Kind == KindOn {
			machine.Status = StatusActive
		} else {
			machine.Status = StatusInactive
		}
		machine.LastEvent = event.Timestamp
		if event.Kind == KindOff && event.Duration != nil {
			machine.HoursToday += event.Duration.Hours
		}
		machine.UpdatedAt = time.Now()

		if err := putMachine(tx, machine); err != nil {
			return err
		}

		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		// Key sorts by time so range scans come back in event order.
		pb := tx.Bucket(PointagesBucket)
		key := fmt.Sprintf("%d:%s", event.Timestamp.UnixNano(), event.ID)
		return pb.Put([]byte(key), data)
	})

	return created, err
}

func (s *BoltStore) GetPointages(ctx context.Context, filters EventFilters) ([]PointageEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []PointageEvent

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(PointagesBucket)
		return b.ForEach(func(k, v []byte) error {
			var event PointageEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return nil // Skip malformed entries
			}

			if filters.MachineID != "" && event.MachineID != filters.MachineID {
				return nil
			}
			if filters.Kind != "" && event.Kind != filters.Kind {
				return nil
			}
			if filters.Since != nil && event.Timestamp.Before(*filters.Since) {
				return nil
			}
			if filters.Until != nil && event.Timestamp.After(*filters.Until) {
				return nil
			}

			events = append(events, event)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Newest first, bounded by the limit
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if filters.Limit > 0 && len(events) > filters.Limit {
		events = events[:filters.Limit]
	}

	return events, nil
}

func (s *BoltStore) CreateAlert(ctx context.Context, alert *Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(AlertsBucket)

		data, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("failed to marshal alert: %w", err)
		}

		return b.Put([]byte(alert.ID), data)
	})
}

func (s *BoltStore) GetAlerts(ctx context.Context, filters AlertFilters) ([]Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var alerts []Alert

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(AlertsBucket)
		return b.ForEach(func(k, v []byte) error {
			var alert Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return nil
			}

			if filters.MachineID != "" && alert.MachineID != filters.MachineID {
				return nil
			}
			if filters.Kind != "" && alert.Kind != filters.Kind {
				return nil
			}
			if filters.Resolved != nil && alert.Resolved != *filters.Resolved {
				return nil
			}

			alerts = append(alerts, alert)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})

	return alerts, nil
}

func (s *BoltStore) ResolveAlert(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(AlertsBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}

		var alert Alert
		if err := json.Unmarshal(v, &alert); err != nil {
			return err
		}

		alert.Resolved = true
		data, err := json.Marshal(alert)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) ResetDailyHours(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MachinesBucket)

		// Collect first; the bucket must not be mutated mid-iteration.
		var machines []*Machine
		err := b.ForEach(func(k, v []byte) error {
			var machine Machine
			if err := json.Unmarshal(v, &machine); err != nil {
				return nil
			}
			if machine.HoursToday != 0 {
				machines = append(machines, &machine)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, machine := range machines {
			machine.HoursToday = 0
			machine.UpdatedAt = time.Now()
			if err := putMachine(tx, machine); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getMachine(tx *bbolt.Tx, id string) (*Machine, error) {
	b := tx.Bucket(MachinesBucket)
	v := b.Get([]byte(id))
	if v == nil {
		return nil, ErrNotFound
	}
	var machine Machine
	if err := json.Unmarshal(v, &machine); err != nil {
		return nil, err
	}
	return &machine, nil
}

func putMachine(tx *bbolt.Tx, machine *Machine) error {
	data, err := json.Marshal(machine)
	if err != nil {
		return fmt.Errorf("failed to marshal machine: %w", err)
	}
	return tx.Bucket(MachinesBucket).Put([]byte(machine.ID), data)
}
