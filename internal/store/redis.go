package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/posturedev/posturelink/internal/protocol"
	"github.com/posturedev/posturelink/internal/session"
)

// Key layout, all prefixed with posture:<owner>:
//
//	current        string, JSON reading (absent when cleared)
//	current:events pub/sub channel, JSON reading or empty payload
//	history        list, JSON readings, oldest first
//	history:seq    counter for history entry ids
//	sessions       hash, id -> JSON record
//	sessions:seq   counter for session ids

const historyMax = 10000

// RedisStore implements Store on a Redis instance.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(addr, password string, db int, logger *zap.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, logger: logger}
}

// Ping verifies the connection; used at startup to log store availability.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func key(ownerID, suffix string) string {
	return fmt.Sprintf("posture:%s:%s", ownerID, suffix)
}

func (s *RedisStore) WriteCurrent(ctx context.Context, ownerID string, r protocol.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteWrite, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key(ownerID, "current"), payload, 0)
	pipe.Publish(ctx, key(ownerID, "current:events"), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteWrite, err)
	}
	return nil
}

func (s *RedisStore) ClearCurrent(ctx context.Context, ownerID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key(ownerID, "current"))
	pipe.Publish(ctx, key(ownerID, "current:events"), "")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteWrite, err)
	}
	return nil
}

func (s *RedisStore) AppendHistory(ctx context.Context, ownerID string, r protocol.Reading) (string, error) {
	id, err := s.client.Incr(ctx, key(ownerID, "history:seq")).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteWrite, err)
	}
	entry := struct {
		ID string `json:"id"`
		protocol.Reading
	}{ID: strconv.FormatInt(id, 10), Reading: r}
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteWrite, err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key(ownerID, "history"), payload)
	pipe.LTrim(ctx, key(ownerID, "history"), -historyMax, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteWrite, err)
	}
	return entry.ID, nil
}

func (s *RedisStore) ReadHistory(ctx context.Context, ownerID string, limit int) ([]protocol.Reading, error) {
	if limit <= 0 {
		limit = historyMax
	}
	raw, err := s.client.LRange(ctx, key(ownerID, "history"), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	readings := make([]protocol.Reading, 0, len(raw))
	for _, item := range raw {
		var r protocol.Reading
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			s.logger.Warn("skipping malformed history entry", zap.Error(err))
			continue
		}
		readings = append(readings, r)
	}
	return readings, nil
}

func (s *RedisStore) SubscribeCurrent(ctx context.Context, ownerID string) (<-chan *protocol.Reading, func(), error) {
	sub := s.client.Subscribe(ctx, key(ownerID, "current:events"))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, err
	}
	out := make(chan *protocol.Reading, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			if msg.Payload == "" {
				out <- nil
				continue
			}
			var r protocol.Reading
			if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
				s.logger.Warn("skipping malformed current event", zap.Error(err))
				continue
			}
			out <- &r
		}
	}()
	cancel := func() { sub.Close() }
	return out, cancel, nil
}

func (s *RedisStore) PutSession(ctx context.Context, ownerID string, rec session.Record) (string, error) {
	if rec.ID == "" {
		id, err := s.client.Incr(ctx, key(ownerID, "sessions:seq")).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRemoteWrite, err)
		}
		rec.ID = strconv.FormatInt(id, 10)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteWrite, err)
	}
	if err := s.client.HSet(ctx, key(ownerID, "sessions"), rec.ID, payload).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteWrite, err)
	}
	return rec.ID, nil
}

func (s *RedisStore) ListSessions(ctx context.Context, ownerID string, limit int) ([]session.Record, error) {
	raw, err := s.client.HGetAll(ctx, key(ownerID, "sessions")).Result()
	if err != nil {
		return nil, err
	}
	records := make([]session.Record, 0, len(raw))
	for _, item := range raw {
		var rec session.Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.logger.Warn("skipping malformed session record", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StartedAt < records[j].StartedAt })
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, ownerID, sessionID string) error {
	return s.client.HDel(ctx, key(ownerID, "sessions"), sessionID).Err()
}
