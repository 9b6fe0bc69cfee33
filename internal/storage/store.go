// Package storage persists the per-user safety record: the last check-in,
// the risk history and recent check-ins.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terminal-bench/safetywatch/internal/checkin"
	"github.com/terminal-bench/safetywatch/internal/risk"
)

// ErrNotFound is returned by Load when no record exists for the user.
var ErrNotFound = errors.New("storage: record not found")

// Record is everything checkpointed for one user.
type Record struct {
	UserID      string           `json:"user_id"`
	LastCheckIn *time.Time       `json:"last_check_in,omitempty"`
	History     []risk.Result    `json:"history"`
	CheckIns    []checkin.Record `json:"check_ins"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Store is a key-value store of records keyed by user ID.
type Store interface {
	Load(ctx context.Context, userID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Close() error
}

// WithRecord loads the user's record (a fresh one when none exists), hands it
// to fn and always saves it back, even when fn fails. Errors from fn and the
// save are joined.
func WithRecord(ctx context.Context, store Store, userID string, fn func(*Record) error) error {
	rec, err := store.Load(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = &Record{UserID: userID}
	case err != nil:
		return fmt.Errorf("load record %s: %w", userID, err)
	}

	fnErr := fn(rec)

	rec.UserID = userID
	rec.UpdatedAt = time.Now().UTC()
	trim(rec)
	if err := store.Save(ctx, rec); err != nil {
		return errors.Join(fnErr, fmt.Errorf("save record %s: %w", userID, err))
	}
	return fnErr
}

func trim(rec *Record) {
	if len(rec.History) > risk.HistoryCapacity {
		rec.History = rec.History[:risk.HistoryCapacity]
	}
	if len(rec.CheckIns) > checkin.LogCapacity {
		rec.CheckIns = rec.CheckIns[:checkin.LogCapacity]
	}
}

func cloneRecord(rec *Record) *Record {
	cp := *rec
	if rec.LastCheckIn != nil {
		at := *rec.LastCheckIn
		cp.LastCheckIn = &at
	}
	cp.History = make([]risk.Result, len(rec.History))
	for i, r := range rec.History {
		cp.History[i] = r.Clone()
	}
	cp.CheckIns = append([]checkin.Record(nil), rec.CheckIns...)
	return &cp
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Drivers lists every supported driver name.
func Drivers() []string {
	return []string{DriverMemory, DriverRedis, DriverSQLite, DriverPostgres}
}

// Open builds a store for driver. dsn is a redis URL for redis, a file path
// for sqlite and a connection string for postgres; memory ignores it.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverRedis:
		store, err := NewRedisStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverSQLite, DriverPostgres:
		store, err := OpenSQL(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
