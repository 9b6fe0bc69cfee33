package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/safetywatch/internal/checkin"
	"github.com/terminal-bench/safetywatch/internal/risk"
)

// RedisStore keeps each record as a small set of keys:
//
//	safety:<user>:last_checkin  RFC3339 timestamp
//	safety:<user>:history       list of JSON results, newest first
//	safety:<user>:checkins      list of JSON check-ins, newest first
//	safety:<user>:updated_at    RFC3339 timestamp, marks the record as present
type RedisStore struct {
	rdb *redis.Client
}

type redisKeys struct {
	lastCheckIn string
	history     string
	checkIns    string
	updatedAt   string
}

func keysFor(userID string) redisKeys {
	prefix := fmt.Sprintf("safety:%s:", userID)
	return redisKeys{
		lastCheckIn: prefix + "last_checkin",
		history:     prefix + "history",
		checkIns:    prefix + "checkins",
		updatedAt:   prefix + "updated_at",
	}
}

// NewRedisStore connects to the redis URL and verifies the connection.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Load(ctx context.Context, userID string) (*Record, error) {
	k := keysFor(userID)

	var (
		updated  *redis.StringCmd
		last     *redis.StringCmd
		history  *redis.StringSliceCmd
		checkIns *redis.StringSliceCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		updated = p.Get(ctx, k.updatedAt)
		last = p.Get(ctx, k.lastCheckIn)
		history = p.LRange(ctx, k.history, 0, risk.HistoryCapacity-1)
		checkIns = p.LRange(ctx, k.checkIns, 0, checkin.LogCapacity-1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load %s: %w", userID, err)
	}

	updatedAt, err := updated.Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &Record{UserID: userID}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}

	if raw, err := last.Result(); err == nil {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode last_checkin: %w", err)
		}
		rec.LastCheckIn = &at
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	if rec.History, err = decodeList[risk.Result](history.Val()); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if rec.CheckIns, err = decodeList[checkin.Record](checkIns.Val()); err != nil {
		return nil, fmt.Errorf("decode check-ins: %w", err)
	}
	return rec, nil
}

// Save rewrites the record atomically. Lists are rebuilt with LPUSH from the
// oldest entry so the newest ends up at the head, then trimmed to capacity.
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	k := keysFor(rec.UserID)

	history, err := encodeList(rec.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	checkIns, err := encodeList(rec.CheckIns)
	if err != nil {
		return fmt.Errorf("encode check-ins: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k.history, k.checkIns, k.lastCheckIn)
		if rec.LastCheckIn != nil {
			p.Set(ctx, k.lastCheckIn, rec.LastCheckIn.UTC().Format(time.RFC3339Nano), 0)
		}
		if len(history) > 0 {
			p.LPush(ctx, k.history, reversed(history)...)
			p.LTrim(ctx, k.history, 0, risk.HistoryCapacity-1)
		}
		if len(checkIns) > 0 {
			p.LPush(ctx, k.checkIns, reversed(checkIns)...)
			p.LTrim(ctx, k.checkIns, 0, checkin.LogCapacity-1)
		}
		p.Set(ctx, k.updatedAt, rec.UpdatedAt.UTC().Format(time.RFC3339Nano), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", rec.UserID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func encodeList[T any](items []T) ([]string, error) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

func decodeList[T any](raw []string) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// reversed returns items oldest-first as LPUSH arguments.
func reversed(items []string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out
}
