package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/donmikel/chunkup/applications/server/domain"
	"github.com/donmikel/chunkup/applications/server/interfaces"
)

// releaseClaim deletes the claim only while it still names the caller.
var releaseClaim = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type artifactStorage struct {
	client *redis.Client
	prefix string
}

func NewArtifactStorage(client *redis.Client, prefix string) interfaces.ArtifactStorage {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &artifactStorage{
		client: client,
		prefix: prefix,
	}
}

func (a *artifactStorage) key(assetID string, fileType domain.FileType) string {
	return a.prefix + "artifact:" + assetID + ":" + string(fileType)
}

func (a *artifactStorage) claimKey(assetID string, fileType domain.FileType) string {
	return a.key(assetID, fileType) + ":claim"
}

func (a *artifactStorage) GetArtifact(ctx context.Context, assetID string, fileType domain.FileType) (domain.Artifact, error) {
	return a.load(ctx, a.client, assetID, fileType)
}

func (a *artifactStorage) ClaimArtifact(
	ctx context.Context,
	assetID string,
	fileType domain.FileType,
	owner string,
	expectedVersion int64,
	ttl time.Duration,
) error {
	claimKey := a.claimKey(assetID, fileType)

	txf := func(tx *redis.Tx) error {
		if err := a.checkClaim(ctx, tx, assetID, fileType, owner); err != nil {
			return err
		}

		current, err := a.version(ctx, tx, assetID, fileType)
		if err != nil {
			return err
		}
		if expectedVersion >= 0 && current != expectedVersion {
			return fmt.Errorf("%w: asset = %s, type = %s, expected version %d, current %d",
				domain.ErrVersionConflict, assetID, fileType, expectedVersion, current)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, claimKey, owner, ttl)
			return nil
		})

		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := a.client.Watch(ctx, txf, a.key(assetID, fileType), claimKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		return err
	}

	return fmt.Errorf("artifact %s claim: %w", claimKey, redis.TxFailedErr)
}

func (a *artifactStorage) ReleaseArtifact(ctx context.Context, assetID string, fileType domain.FileType, owner string) error {
	if err := releaseClaim.Run(ctx, a.client, []string{a.claimKey(assetID, fileType)}, owner).Err(); err != nil {
		return fmt.Errorf("can't release artifact claim: %w", err)
	}

	return nil
}

func (a *artifactStorage) CommitArtifact(ctx context.Context, artifact domain.Artifact, expectedVersion int64) (domain.Artifact, error) {
	key := a.key(artifact.AssetID, artifact.FileType)
	claimKey := a.claimKey(artifact.AssetID, artifact.FileType)

	var committed domain.Artifact
	txf := func(tx *redis.Tx) error {
		if err := a.checkClaim(ctx, tx, artifact.AssetID, artifact.FileType, artifact.UploadID); err != nil {
			return err
		}

		current, err := a.version(ctx, tx, artifact.AssetID, artifact.FileType)
		if err != nil {
			return err
		}
		if expectedVersion >= 0 && current != expectedVersion {
			return fmt.Errorf("%w: asset = %s, type = %s, expected version %d, current %d",
				domain.ErrVersionConflict, artifact.AssetID, artifact.FileType, expectedVersion, current)
		}

		next := artifact
		next.Version = current + 1
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("can't marshal artifact: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.Del(ctx, claimKey)
			return nil
		})
		if err != nil {
			return err
		}

		committed = next
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := a.client.Watch(ctx, txf, key, claimKey)
		if err == nil {
			return committed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			if expectedVersion >= 0 {
				// someone else committed in between
				return domain.Artifact{}, fmt.Errorf("%w: asset = %s, type = %s", domain.ErrVersionConflict, artifact.AssetID, artifact.FileType)
			}
			continue
		}

		return domain.Artifact{}, err
	}

	return domain.Artifact{}, fmt.Errorf("artifact %s commit: %w", key, redis.TxFailedErr)
}

func (a *artifactStorage) checkClaim(ctx context.Context, tx *redis.Tx, assetID string, fileType domain.FileType, owner string) error {
	holder, err := tx.Get(ctx, a.claimKey(assetID, fileType)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("can't read artifact claim: %w", err)
	}

	if holder != owner {
		return fmt.Errorf("%w: asset = %s, type = %s, held by %s", domain.ErrArtifactBusy, assetID, fileType, holder)
	}

	return nil
}

func (a *artifactStorage) version(ctx context.Context, c reader, assetID string, fileType domain.FileType) (int64, error) {
	existing, err := a.load(ctx, c, assetID, fileType)
	switch {
	case errors.Is(err, domain.ErrArtifactNotFound):
		return 0, nil
	case err != nil:
		return 0, err
	}

	return existing.Version, nil
}

func (a *artifactStorage) load(ctx context.Context, c reader, assetID string, fileType domain.FileType) (domain.Artifact, error) {
	data, err := c.Get(ctx, a.key(assetID, fileType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Artifact{}, fmt.Errorf("%w: asset = %s, type = %s", domain.ErrArtifactNotFound, assetID, fileType)
	}
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("can't read artifact: %w", err)
	}

	var artifact domain.Artifact
	if err = json.Unmarshal(data, &artifact); err != nil {
		return domain.Artifact{}, fmt.Errorf("can't unmarshal artifact: %w", err)
	}

	return artifact, nil
}
