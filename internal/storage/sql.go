package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS safety_records (
	user_id       TEXT PRIMARY KEY,
	last_checkin  TEXT,
	history_json  TEXT NOT NULL,
	checkins_json TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
`

// SQLStore keeps one row per user in sqlite or postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens the database and runs migrations.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage: %s requires a dsn", driver)
	}
	name := driver
	if driver == DriverSQLite && !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Load(ctx context.Context, userID string) (*Record, error) {
	var (
		last      sql.NullString
		history   string
		checkIns  string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT last_checkin, history_json, checkins_json, updated_at FROM safety_records WHERE user_id = ?`),
		userID,
	).Scan(&last, &history, &checkIns, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}

	rec := &Record{UserID: userID}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	if last.Valid {
		at, err := time.Parse(time.RFC3339Nano, last.String)
		if err != nil {
			return nil, fmt.Errorf("decode last_checkin: %w", err)
		}
		rec.LastCheckIn = &at
	}
	if err := json.Unmarshal([]byte(history), &rec.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if err := json.Unmarshal([]byte(checkIns), &rec.CheckIns); err != nil {
		return nil, fmt.Errorf("decode check-ins: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) Save(ctx context.Context, rec *Record) error {
	history, err := json.Marshal(nonNil(rec.History))
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	checkIns, err := json.Marshal(nonNil(rec.CheckIns))
	if err != nil {
		return fmt.Errorf("encode check-ins: %w", err)
	}
	var last any
	if rec.LastCheckIn != nil {
		last = rec.LastCheckIn.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO safety_records (user_id, last_checkin, history_json, checkins_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			last_checkin = excluded.last_checkin,
			history_json = excluded.history_json,
			checkins_json = excluded.checkins_json,
			updated_at = excluded.updated_at`),
		rec.UserID, last, string(history), string(checkIns), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
