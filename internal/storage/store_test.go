package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/safetywatch/internal/checkin"
	"github.com/terminal-bench/safetywatch/internal/risk"
)

func sampleRecord(userID string) *Record {
	at := time.Date(2026, 8, 3, 7, 30, 0, 0, time.UTC)
	return &Record{
		UserID:      userID,
		LastCheckIn: &at,
		History: []risk.Result{
			{RiskLevel: 6, Confidence: 0.6, RiskFactors: []string{risk.FactorDelayed}, Recommendations: risk.Recommendations(6), Source: risk.SourceFallback, ComputedAt: at},
			{RiskLevel: 2, Confidence: 0.9, RiskFactors: []string{risk.FactorNoneDetected}, Recommendations: risk.Recommendations(2), Source: risk.SourceRemote, ComputedAt: at.Add(-time.Hour)},
		},
		CheckIns:  []checkin.Record{{ID: "c1", Mood: checkin.MoodGood, Note: "산책", At: at}},
		UpdatedAt: at,
	}
}

func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("should report unknown users", func(t *testing.T) {
		_, err := store.Load(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should round-trip a record", func(t *testing.T) {
		want := sampleRecord("user-a")
		require.NoError(t, store.Save(ctx, want))

		got, err := store.Load(ctx, "user-a")
		require.NoError(t, err)
		require.NotNil(t, got.LastCheckIn)
		assert.True(t, want.LastCheckIn.Equal(*got.LastCheckIn))
		require.Len(t, got.History, 2)
		assert.Equal(t, 6, got.History[0].RiskLevel)
		assert.Equal(t, risk.SourceRemote, got.History[1].Source)
		assert.Equal(t, want.History[0].Recommendations, got.History[0].Recommendations)
		require.Len(t, got.CheckIns, 1)
		assert.Equal(t, checkin.MoodGood, got.CheckIns[0].Mood)
		assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
	})

	t.Run("should overwrite on save", func(t *testing.T) {
		rec := sampleRecord("user-b")
		require.NoError(t, store.Save(ctx, rec))

		rec.LastCheckIn = nil
		rec.History = rec.History[:1]
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Load(ctx, "user-b")
		require.NoError(t, err)
		assert.Nil(t, got.LastCheckIn)
		assert.Len(t, got.History, 1)
	})

	t.Run("should flush through WithRecord", func(t *testing.T) {
		at := time.Date(2026, 8, 4, 8, 0, 0, 0, time.UTC)
		err := WithRecord(ctx, store, "user-c", func(rec *Record) error {
			assert.Empty(t, rec.History)
			rec.LastCheckIn = &at
			rec.History = append(rec.History, risk.Result{RiskLevel: 3, Source: risk.SourceFallback})
			return nil
		})
		require.NoError(t, err)

		got, err := store.Load(ctx, "user-c")
		require.NoError(t, err)
		assert.True(t, at.Equal(*got.LastCheckIn))
		assert.Len(t, got.History, 1)
		assert.False(t, got.UpdatedAt.IsZero())
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())

	t.Run("should not share memory with callers", func(t *testing.T) {
		s := NewMemoryStore()
		rec := sampleRecord("u")
		require.NoError(t, s.Save(context.Background(), rec))
		rec.History[0].RiskLevel = 0

		got, err := s.Load(context.Background(), "u")
		require.NoError(t, err)
		assert.Equal(t, 6, got.History[0].RiskLevel)
	})
}

func TestSQLStoreSQLite(t *testing.T) {
	store, err := OpenSQL(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "safety.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runStoreContract(t, store)
}

func TestSQLRebind(t *testing.T) {
	t.Run("should number placeholders for postgres", func(t *testing.T) {
		s := &SQLStore{driver: DriverPostgres}
		assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	})

	t.Run("should leave sqlite queries alone", func(t *testing.T) {
		s := &SQLStore{driver: DriverSQLite}
		assert.Equal(t, "x = ?", s.rebind("x = ?"))
	})
}

type failingStore struct {
	*MemoryStore
	saveErr error
	saved   int
}

func (f *failingStore) Save(ctx context.Context, rec *Record) error {
	f.saved++
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryStore.Save(ctx, rec)
}

func TestWithRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("should save even when fn fails", func(t *testing.T) {
		store := &failingStore{MemoryStore: NewMemoryStore()}
		fnErr := errors.New("cycle aborted")

		err := WithRecord(ctx, store, "u", func(rec *Record) error {
			rec.History = []risk.Result{{RiskLevel: 4}}
			return fnErr
		})

		assert.ErrorIs(t, err, fnErr)
		assert.Equal(t, 1, store.saved)
		got, loadErr := store.Load(ctx, "u")
		require.NoError(t, loadErr)
		assert.Len(t, got.History, 1)
	})

	t.Run("should join fn and save errors", func(t *testing.T) {
		saveErr := errors.New("disk full")
		fnErr := errors.New("bad input")
		store := &failingStore{MemoryStore: NewMemoryStore(), saveErr: saveErr}

		err := WithRecord(ctx, store, "u", func(*Record) error { return fnErr })

		assert.ErrorIs(t, err, fnErr)
		assert.ErrorIs(t, err, saveErr)
	})

	t.Run("should trim oversized collections", func(t *testing.T) {
		store := NewMemoryStore()
		err := WithRecord(ctx, store, "u", func(rec *Record) error {
			rec.History = make([]risk.Result, risk.HistoryCapacity+3)
			rec.CheckIns = make([]checkin.Record, checkin.LogCapacity+1)
			return nil
		})
		require.NoError(t, err)

		got, err := store.Load(ctx, "u")
		require.NoError(t, err)
		assert.Len(t, got.History, risk.HistoryCapacity)
		assert.Len(t, got.CheckIns, checkin.LogCapacity)
	})

	t.Run("should stop when load fails", func(t *testing.T) {
		store := NewMemoryStore()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		called := false

		err := WithRecord(cancelled, store, "u", func(*Record) error { called = true; return nil })

		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestOpen(t *testing.T) {
	t.Run("should default to memory", func(t *testing.T) {
		s, err := Open(context.Background(), "", "")
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
	})

	t.Run("should reject unknown drivers", func(t *testing.T) {
		_, err := Open(context.Background(), "cassandra", "")
		assert.Error(t, err)
	})

	t.Run("should require a dsn for sql drivers", func(t *testing.T) {
		_, err := Open(context.Background(), DriverPostgres, "")
		assert.Error(t, err)
	})
}
