package server

import (
	"context"
	"io"
	"time"

	"github.com/donmikel/chunkup/applications/server/domain"
)

type UploadService interface {
	InitUpload(ctx context.Context, req domain.InitRequest) (domain.UploadSession, []string, error)
	UploadChunk(ctx context.Context, uploadID string, index int, body io.Reader, size int64) (domain.ChunkSlot, error)
	ChunkStatus(ctx context.Context, uploadID string) (domain.UploadStatus, error)
	CompleteUpload(ctx context.Context, req domain.CompleteRequest) (domain.Artifact, error)
	AbortUpload(ctx context.Context, uploadID string) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	DirectUpload(ctx context.Context, req domain.DirectUploadRequest) (domain.Artifact, error)
	GetArtifact(ctx context.Context, assetID string, fileType domain.FileType) (domain.Artifact, error)
	OpenObject(ctx context.Context, key string) (domain.Object, error)
}
