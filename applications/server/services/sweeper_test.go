package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/donmikel/chunkup/applications/server"
	"github.com/donmikel/chunkup/applications/server/domain"
)

type countingSweeper struct {
	server.UploadService

	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (c *countingSweeper) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.calls == 3 {
		close(c.done)
	}

	return 1, nil
}

func TestSweeperRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := &countingSweeper{done: make(chan struct{})}
	sw := NewSweeper(svc, 5*time.Millisecond, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sw.Run(ctx) }()

	select {
	case <-svc.done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not tick")
	}

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestSweeperRemovesExpiredSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.init(t, "asset-1", []string{"aa"})
	env.upload(t, session.ID, 0, "aa")

	sw := NewSweeper(env.svc, time.Hour, log.NewNopLogger())
	sw.now = func() time.Time { return env.now.Add(defaultSessionTTL + time.Minute) }
	sw.sweep(context.Background())

	_, err := env.sessions.GetSession(context.Background(), session.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = env.storage.StatObject(context.Background(), domain.ChunkKey(session.ID, 0))
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
}
