package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/donmikel/chunkup/applications/server/domain"
)

type Storage interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (domain.ObjectInfo, error)
	GetObject(ctx context.Context, key string) (domain.Object, error)
	StatObject(ctx context.Context, key string) (domain.ObjectInfo, error)
	DeleteObject(ctx context.Context, key string) error
	Name() string
}

// Presigner is implemented by object stores that accept direct client PUTs.
type Presigner interface {
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
}
