// Package redisstore keeps upload sessions and artifact records in Redis so that
// several coordinator replicas can share them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/redis/go-redis/v9"

	"github.com/donmikel/chunkup/applications/server/domain"
	"github.com/donmikel/chunkup/applications/server/interfaces"
)

const (
	DefaultKeyPrefix = "chunkup:"

	maxTxRetries = 10
)

// markChunk records a chunk only while the session itself exists, so a late
// chunk can't resurrect the receipts of a deleted session.
var markChunk = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// reader is satisfied by both *redis.Client and *redis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

type sessionStorage struct {
	client *redis.Client
	prefix string
	logger log.Logger
}

func NewSessionStorage(client *redis.Client, prefix string, logger log.Logger) interfaces.SessionStorage {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &sessionStorage{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *sessionStorage) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *sessionStorage) chunksKey(id string) string {
	return s.prefix + "session:" + id + ":chunks"
}

func (s *sessionStorage) expiryKey() string {
	return s.prefix + "sessions:expiry"
}

func (s *sessionStorage) CreateSession(ctx context.Context, session domain.UploadSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("can't marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.sessionKey(session.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("can't store session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session with id = %s already exists", session.ID)
	}

	if err = s.client.ZAdd(ctx, s.expiryKey(), redis.Z{
		Score:  expiryScore(session.ExpiresAt),
		Member: session.ID,
	}).Err(); err != nil {
		return fmt.Errorf("can't index session expiry: %w", err)
	}

	return nil
}

func (s *sessionStorage) GetSession(ctx context.Context, id string) (domain.UploadSession, error) {
	return s.load(ctx, s.client, id)
}

func (s *sessionStorage) UpdateSession(ctx context.Context, id string, fn func(*domain.UploadSession) error) (domain.UploadSession, error) {
	var updated domain.UploadSession

	txf := func(tx *redis.Tx) error {
		session, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}

		if err = fn(&session); err != nil {
			return err
		}

		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("can't marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.sessionKey(id), data, 0)
			pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: expiryScore(session.ExpiresAt), Member: id})
			return nil
		})
		if err != nil {
			return err
		}

		updated = session
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.sessionKey(id))
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			level.Debug(s.logger).Log("msg", "session update raced, retrying", "upload_id", id, "attempt", i+1)
			continue
		}

		return domain.UploadSession{}, err
	}

	return domain.UploadSession{}, fmt.Errorf("session %s update: %w", id, redis.TxFailedErr)
}

func (s *sessionStorage) MarkChunkReceived(ctx context.Context, id string, slot domain.ChunkSlot) error {
	session, err := s.load(ctx, s.client, id)
	if err != nil {
		return err
	}

	if slot.Index < 0 || slot.Index >= session.TotalChunks {
		return fmt.Errorf("%w: %d", domain.ErrChunkOutOfRange, slot.Index)
	}

	slot.Received = true
	data, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("can't marshal chunk slot: %w", err)
	}

	recorded, err := markChunk.Run(ctx, s.client, []string{s.sessionKey(id), s.chunksKey(id)}, strconv.Itoa(slot.Index), data).Int()
	if err != nil {
		return fmt.Errorf("can't record chunk %d: %w", slot.Index, err)
	}
	if recorded == 0 {
		return fmt.Errorf("%w: id = %s", domain.ErrSessionNotFound, id)
	}

	return nil
}

func (s *sessionStorage) DeleteSession(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(id), s.chunksKey(id))
		pipe.ZRem(ctx, s.expiryKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("can't delete session %s: %w", id, err)
	}

	return nil
}

func (s *sessionStorage) ListExpiredSessions(ctx context.Context, before time.Time, limit int) ([]domain.UploadSession, error) {
	rangeBy := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatFloat(expiryScore(before), 'f', -1, 64),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}

	ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("can't list expired sessions: %w", err)
	}

	result := make([]domain.UploadSession, 0, len(ids))
	for _, id := range ids {
		session, err := s.load(ctx, s.client, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			// index entry outlived its record
			s.client.ZRem(ctx, s.expiryKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}

		result = append(result, session)
	}

	return result, nil
}

func (s *sessionStorage) load(ctx context.Context, c reader, id string) (domain.UploadSession, error) {
	data, err := c.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.UploadSession{}, fmt.Errorf("%w: id = %s", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return domain.UploadSession{}, fmt.Errorf("can't read session %s: %w", id, err)
	}

	var session domain.UploadSession
	if err = json.Unmarshal(data, &session); err != nil {
		return domain.UploadSession{}, fmt.Errorf("can't unmarshal session %s: %w", id, err)
	}

	received, err := c.HGetAll(ctx, s.chunksKey(id)).Result()
	if err != nil {
		return domain.UploadSession{}, fmt.Errorf("can't read chunks of session %s: %w", id, err)
	}

	for _, raw := range received {
		var slot domain.ChunkSlot
		if err = json.Unmarshal([]byte(raw), &slot); err != nil {
			return domain.UploadSession{}, fmt.Errorf("can't unmarshal chunk of session %s: %w", id, err)
		}
		if slot.Index >= 0 && slot.Index < len(session.Chunks) {
			session.Chunks[slot.Index] = slot
		}
	}

	return session, nil
}

func expiryScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}
