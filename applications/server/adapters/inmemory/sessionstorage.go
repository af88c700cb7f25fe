package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/donmikel/chunkup/applications/server/domain"
	"github.com/donmikel/chunkup/applications/server/interfaces"
)

type inMemorySessionStorage struct {
	sessions map[string]domain.UploadSession
	mutex    sync.RWMutex
}

func NewSessionStorage() interfaces.SessionStorage {
	return &inMemorySessionStorage{
		sessions: map[string]domain.UploadSession{},
	}
}

func (i *inMemorySessionStorage) CreateSession(ctx context.Context, session domain.UploadSession) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if _, ok := i.sessions[session.ID]; ok {
		return fmt.Errorf("session with id = %s already exists", session.ID)
	}

	i.sessions[session.ID] = cloneSession(session)

	return nil
}

func (i *inMemorySessionStorage) GetSession(ctx context.Context, id string) (domain.UploadSession, error) {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	s, ok := i.sessions[id]
	if !ok {
		return domain.UploadSession{}, fmt.Errorf("%w: id = %s", domain.ErrSessionNotFound, id)
	}

	return cloneSession(s), nil
}

func (i *inMemorySessionStorage) UpdateSession(ctx context.Context, id string, fn func(*domain.UploadSession) error) (domain.UploadSession, error) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	s, ok := i.sessions[id]
	if !ok {
		return domain.UploadSession{}, fmt.Errorf("%w: id = %s", domain.ErrSessionNotFound, id)
	}

	s = cloneSession(s)
	if err := fn(&s); err != nil {
		return domain.UploadSession{}, err
	}

	i.sessions[id] = s

	return cloneSession(s), nil
}

func (i *inMemorySessionStorage) MarkChunkReceived(ctx context.Context, id string, slot domain.ChunkSlot) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	s, ok := i.sessions[id]
	if !ok {
		return fmt.Errorf("%w: id = %s", domain.ErrSessionNotFound, id)
	}

	if slot.Index < 0 || slot.Index >= len(s.Chunks) {
		return fmt.Errorf("%w: %d", domain.ErrChunkOutOfRange, slot.Index)
	}

	slot.Received = true
	s.Chunks[slot.Index] = slot

	return nil
}

func (i *inMemorySessionStorage) DeleteSession(ctx context.Context, id string) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	delete(i.sessions, id)

	return nil
}

func (i *inMemorySessionStorage) ListExpiredSessions(ctx context.Context, before time.Time, limit int) ([]domain.UploadSession, error) {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	result := make([]domain.UploadSession, 0)
	for _, s := range i.sessions {
		if s.Expired(before) {
			result = append(result, cloneSession(s))
		}
	}

	sort.Slice(result, func(a, b int) bool {
		return result[a].ExpiresAt.Before(result[b].ExpiresAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func cloneSession(s domain.UploadSession) domain.UploadSession {
	s.Chunks = append([]domain.ChunkSlot(nil), s.Chunks...)
	return s
}
