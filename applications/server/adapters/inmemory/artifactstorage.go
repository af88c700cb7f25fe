package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/donmikel/chunkup/applications/server/domain"
	"github.com/donmikel/chunkup/applications/server/interfaces"
)

type artifactKey struct {
	assetID  string
	fileType domain.FileType
}

type artifactClaim struct {
	owner     string
	expiresAt time.Time
}

type inMemoryArtifactStorage struct {
	artifacts map[artifactKey]domain.Artifact
	claims    map[artifactKey]artifactClaim
	mutex     sync.RWMutex
	now       func() time.Time
}

func NewArtifactStorage() interfaces.ArtifactStorage {
	return &inMemoryArtifactStorage{
		artifacts: map[artifactKey]domain.Artifact{},
		claims:    map[artifactKey]artifactClaim{},
		now:       time.Now,
	}
}

func (i *inMemoryArtifactStorage) GetArtifact(ctx context.Context, assetID string, fileType domain.FileType) (domain.Artifact, error) {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	a, ok := i.artifacts[artifactKey{assetID, fileType}]
	if !ok {
		return domain.Artifact{}, fmt.Errorf("%w: asset = %s, type = %s", domain.ErrArtifactNotFound, assetID, fileType)
	}

	return a, nil
}

func (i *inMemoryArtifactStorage) ClaimArtifact(
	ctx context.Context,
	assetID string,
	fileType domain.FileType,
	owner string,
	expectedVersion int64,
	ttl time.Duration,
) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	k := artifactKey{assetID, fileType}
	if err := i.checkClaim(k, owner); err != nil {
		return err
	}

	current := i.artifacts[k].Version
	if expectedVersion >= 0 && current != expectedVersion {
		return fmt.Errorf("%w: asset = %s, type = %s, expected version %d, current %d",
			domain.ErrVersionConflict, assetID, fileType, expectedVersion, current)
	}

	i.claims[k] = artifactClaim{owner: owner, expiresAt: i.now().Add(ttl)}

	return nil
}

func (i *inMemoryArtifactStorage) ReleaseArtifact(ctx context.Context, assetID string, fileType domain.FileType, owner string) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	k := artifactKey{assetID, fileType}
	if c, ok := i.claims[k]; ok && c.owner == owner {
		delete(i.claims, k)
	}

	return nil
}

func (i *inMemoryArtifactStorage) CommitArtifact(ctx context.Context, artifact domain.Artifact, expectedVersion int64) (domain.Artifact, error) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	k := artifactKey{artifact.AssetID, artifact.FileType}
	if err := i.checkClaim(k, artifact.UploadID); err != nil {
		return domain.Artifact{}, err
	}

	current := i.artifacts[k].Version
	if expectedVersion >= 0 && current != expectedVersion {
		return domain.Artifact{}, fmt.Errorf("%w: asset = %s, type = %s, expected version %d, current %d",
			domain.ErrVersionConflict, artifact.AssetID, artifact.FileType, expectedVersion, current)
	}

	artifact.Version = current + 1
	i.artifacts[k] = artifact
	delete(i.claims, k)

	return artifact, nil
}

// checkClaim must be called with mutex held.
func (i *inMemoryArtifactStorage) checkClaim(k artifactKey, owner string) error {
	c, ok := i.claims[k]
	if !ok || c.owner == owner {
		return nil
	}

	if !i.now().Before(c.expiresAt) {
		delete(i.claims, k)
		return nil
	}

	return fmt.Errorf("%w: asset = %s, type = %s, held by %s", domain.ErrArtifactBusy, k.assetID, k.fileType, c.owner)
}
