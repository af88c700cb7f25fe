package interfaces

import (
	"context"
	"time"

	"github.com/donmikel/chunkup/applications/server/domain"
)

type SessionStorage interface {
	CreateSession(ctx context.Context, session domain.UploadSession) error
	GetSession(ctx context.Context, id string) (domain.UploadSession, error)
	// UpdateSession applies fn to the stored session atomically. Returning an
	// error from fn aborts the update and is passed through.
	UpdateSession(ctx context.Context, id string, fn func(*domain.UploadSession) error) (domain.UploadSession, error)
	MarkChunkReceived(ctx context.Context, id string, slot domain.ChunkSlot) error
	DeleteSession(ctx context.Context, id string) error
	ListExpiredSessions(ctx context.Context, before time.Time, limit int) ([]domain.UploadSession, error)
}

type ArtifactStorage interface {
	GetArtifact(ctx context.Context, assetID string, fileType domain.FileType) (domain.Artifact, error)
	// ClaimArtifact reserves the artifact for owner until CommitArtifact or
	// ReleaseArtifact, or until ttl passes. It fails with ErrArtifactBusy while
	// another owner holds a claim and with ErrVersionConflict when the current
	// version is not expectedVersion. A negative expectedVersion skips the
	// version check.
	ClaimArtifact(ctx context.Context, assetID string, fileType domain.FileType, owner string, expectedVersion int64, ttl time.Duration) error
	ReleaseArtifact(ctx context.Context, assetID string, fileType domain.FileType, owner string) error
	// CommitArtifact stores artifact as version expectedVersion+1 if the current
	// version equals expectedVersion. A negative expectedVersion skips the check.
	// A claim held by anyone but artifact.UploadID fails the commit with
	// ErrArtifactBusy; the committer's own claim is released.
	CommitArtifact(ctx context.Context, artifact domain.Artifact, expectedVersion int64) (domain.Artifact, error)
}
