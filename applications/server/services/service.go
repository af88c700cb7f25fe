package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/donmikel/chunkup/applications/api"
	"github.com/donmikel/chunkup/applications/server"
	"github.com/donmikel/chunkup/applications/server/domain"
	"github.com/donmikel/chunkup/applications/server/interfaces"
	"github.com/donmikel/chunkup/applications/server/signer"
)

const (
	defaultSessionTTL         = 2 * time.Hour
	defaultFinalizedRetention = 10 * time.Minute
	defaultChunkURLTTL        = time.Hour
	defaultMaxChunkSize       = 4 << 20 // 4 MiB
	defaultMaxTotalChunks     = 10000
	defaultSweepBatch         = 100
	defaultFinalizeLease      = 15 * time.Minute

	chunkContentType = "application/octet-stream"
)

type Config struct {
	// PublicURL is the externally reachable base URL of the coordinator,
	// used to build chunk upload URLs.
	PublicURL string
	// CDNBaseURL prefixes object keys to form permanent artifact URLs.
	CDNBaseURL string

	SessionTTL         time.Duration
	FinalizedRetention time.Duration
	ChunkURLTTL        time.Duration
	MaxChunkSize       int64
	MaxTotalChunks     int
	SweepBatch         int
	// FinalizeLease bounds how long one finalize holds the artifact claim.
	FinalizeLease time.Duration

	// Presign hands out object store URLs for chunks when the store supports it.
	Presign bool
}

func (c *Config) setDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.FinalizedRetention <= 0 {
		c.FinalizedRetention = defaultFinalizedRetention
	}
	if c.ChunkURLTTL <= 0 {
		c.ChunkURLTTL = defaultChunkURLTTL
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = defaultMaxChunkSize
	}
	if c.MaxTotalChunks <= 0 {
		c.MaxTotalChunks = defaultMaxTotalChunks
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = defaultSweepBatch
	}
	if c.FinalizeLease <= 0 {
		c.FinalizeLease = defaultFinalizeLease
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
}

type service struct {
	sessions  interfaces.SessionStorage
	artifacts interfaces.ArtifactStorage
	storage   interfaces.Storage
	presigner interfaces.Presigner
	signer    *signer.Signer
	cfg       Config
	logger    log.Logger
	now       func() time.Time
}

func NewService(
	sessions interfaces.SessionStorage,
	artifacts interfaces.ArtifactStorage,
	storage interfaces.Storage,
	urlSigner *signer.Signer,
	cfg Config,
	logger log.Logger,
) server.UploadService {
	cfg.setDefaults()

	s := &service{
		sessions:  sessions,
		artifacts: artifacts,
		storage:   storage,
		signer:    urlSigner,
		cfg:       cfg,
		logger:    log.With(logger, "component", "coordinator"),
		now:       time.Now,
	}

	if p, ok := storage.(interfaces.Presigner); ok && cfg.Presign {
		s.presigner = p
	}

	return s
}

func (s *service) InitUpload(ctx context.Context, req domain.InitRequest) (domain.UploadSession, []string, error) {
	if err := s.validateInit(req); err != nil {
		return domain.UploadSession{}, nil, err
	}

	var baseVersion int64
	current, err := s.artifacts.GetArtifact(ctx, req.AssetID, req.FileType)
	switch {
	case errors.Is(err, domain.ErrArtifactNotFound):
	case err != nil:
		return domain.UploadSession{}, nil, fmt.Errorf("can't read current artifact: %w", err)
	default:
		baseVersion = current.Version
	}

	id := uuid.NewString()
	now := s.now().UTC()
	session := domain.UploadSession{
		ID:          id,
		AssetID:     req.AssetID,
		FileName:    path.Base(req.FileName),
		FileType:    req.FileType,
		TotalChunks: req.TotalChunks,
		FileSize:    req.FileSize,
		Status:      domain.StatusInitialized,
		BaseVersion: baseVersion,
		Chunks:      domain.NewChunkSlots(id, req.TotalChunks),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.SessionTTL),
	}

	urls := make([]string, 0, req.TotalChunks)
	for _, slot := range session.Chunks {
		u, err := s.chunkURL(ctx, id, slot)
		if err != nil {
			return domain.UploadSession{}, nil, fmt.Errorf("can't issue url for chunk %d: %w", slot.Index, err)
		}
		urls = append(urls, u)
	}

	if err = s.sessions.CreateSession(ctx, session); err != nil {
		return domain.UploadSession{}, nil, fmt.Errorf("can't create upload session: %w", err)
	}

	sessionsInitialized.WithLabelValues(string(req.FileType)).Inc()
	level.Info(s.logger).Log("msg", "upload session initialized",
		"upload_id", id,
		"asset_id", req.AssetID,
		"file_type", req.FileType,
		"total_chunks", req.TotalChunks,
		"size", humanize.IBytes(uint64(req.FileSize)),
	)

	return session, urls, nil
}

func (s *service) validateInit(req domain.InitRequest) error {
	if err := validateSegment("assetId", req.AssetID); err != nil {
		return err
	}
	if err := validateSegment("fileName", path.Base(req.FileName)); err != nil {
		return err
	}
	if _, err := domain.ParseFileType(string(req.FileType)); err != nil {
		return fmt.Errorf("%w: %q", err, req.FileType)
	}
	if req.FileSize <= 0 {
		return fmt.Errorf("%w: fileSize must be positive", domain.ErrInvalidRequest)
	}
	if req.TotalChunks < 1 {
		return fmt.Errorf("%w: totalChunks must be at least 1", domain.ErrInvalidRequest)
	}
	if req.TotalChunks > s.cfg.MaxTotalChunks {
		return fmt.Errorf("%w: totalChunks exceeds %d", domain.ErrInvalidRequest, s.cfg.MaxTotalChunks)
	}
	if int64(req.TotalChunks) > req.FileSize {
		return fmt.Errorf("%w: more chunks than bytes", domain.ErrInvalidRequest)
	}

	return nil
}

func validateSegment(name, value string) error {
	if value == "" || value == "." || value == ".." || strings.ContainsAny(value, "/\\") {
		return fmt.Errorf("%w: invalid %s %q", domain.ErrInvalidRequest, name, value)
	}

	return nil
}

func (s *service) chunkURL(ctx context.Context, uploadID string, slot domain.ChunkSlot) (string, error) {
	if s.presigner != nil {
		return s.presigner.PresignPut(ctx, slot.Key, s.cfg.ChunkURLTTL)
	}

	return s.signer.SignURL(http.MethodPut, s.cfg.PublicURL+api.ChunkURLPath(uploadID, slot.Index), s.cfg.ChunkURLTTL)
}

func (s *service) UploadChunk(ctx context.Context, uploadID string, index int, body io.Reader, size int64) (domain.ChunkSlot, error) {
	session, err := s.sessions.GetSession(ctx, uploadID)
	if err != nil {
		return domain.ChunkSlot{}, err
	}

	if session.Status != domain.StatusInitialized || session.Expired(s.now()) {
		return domain.ChunkSlot{}, fmt.Errorf("%w: upload %s is %s", domain.ErrUploadNotActive, uploadID, session.Status)
	}
	if index < 0 || index >= session.TotalChunks {
		return domain.ChunkSlot{}, fmt.Errorf("%w: %d not in [0, %d)", domain.ErrChunkOutOfRange, index, session.TotalChunks)
	}
	if size <= 0 {
		return domain.ChunkSlot{}, fmt.Errorf("%w: empty chunk", domain.ErrInvalidRequest)
	}
	if size > s.cfg.MaxChunkSize {
		return domain.ChunkSlot{}, fmt.Errorf("%w: %s exceeds %s", domain.ErrChunkTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.cfg.MaxChunkSize)))
	}

	slot := session.Chunks[index]
	hash := md5.New()
	info, err := s.storage.PutObject(ctx, slot.Key, io.TeeReader(body, hash), size, chunkContentType)
	if err != nil {
		return domain.ChunkSlot{}, fmt.Errorf("can't store chunk %d: %w", index, err)
	}

	// complete or abort may have run while the part was being written
	session, err = s.sessions.GetSession(ctx, uploadID)
	if err == nil && session.Status != domain.StatusInitialized {
		err = fmt.Errorf("%w: upload %s is %s", domain.ErrUploadNotActive, uploadID, session.Status)
	}
	if err != nil {
		s.discardPart(ctx, uploadID, slot.Key)
		return domain.ChunkSlot{}, err
	}

	slot.Size = info.ContentLength
	slot.ETag = hex.EncodeToString(hash.Sum(nil))
	slot.ReceivedAt = s.now().UTC()
	slot.Received = true

	if err = s.sessions.MarkChunkReceived(ctx, uploadID, slot); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			s.discardPart(ctx, uploadID, slot.Key)
		}
		return domain.ChunkSlot{}, fmt.Errorf("can't record chunk %d: %w", index, err)
	}

	chunksReceived.Inc()
	chunkBytes.Add(float64(slot.Size))
	level.Debug(s.logger).Log("msg", "chunk received",
		"upload_id", uploadID,
		"index", index,
		"size", humanize.IBytes(uint64(slot.Size)),
	)

	return slot, nil
}

func (s *service) ChunkStatus(ctx context.Context, uploadID string) (domain.UploadStatus, error) {
	session, err := s.sessions.GetSession(ctx, uploadID)
	if err != nil {
		return domain.UploadStatus{}, err
	}

	status := domain.UploadStatus{Session: session}
	if session.Status != domain.StatusInitialized {
		return status, nil
	}

	// Chunks PUT straight to the object store are never reported to us.
	for _, idx := range session.MissingChunks() {
		slot := session.Chunks[idx]
		info, err := s.storage.StatObject(ctx, slot.Key)
		if errors.Is(err, domain.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return domain.UploadStatus{}, fmt.Errorf("can't stat chunk %d: %w", idx, err)
		}

		slot.Received = true
		slot.Size = info.ContentLength
		slot.ETag = info.ETag
		slot.ReceivedAt = info.ModTime
		session.Chunks[idx] = slot

		if err = s.sessions.MarkChunkReceived(ctx, uploadID, slot); err != nil {
			level.Warn(s.logger).Log("msg", "can't record verified chunk", "upload_id", uploadID, "index", idx, "err", err)
		}
	}

	status.Session = session
	status.ChunkURLs = map[int]string{}
	for _, idx := range session.MissingChunks() {
		u, err := s.chunkURL(ctx, uploadID, session.Chunks[idx])
		if err != nil {
			return domain.UploadStatus{}, fmt.Errorf("can't issue url for chunk %d: %w", idx, err)
		}
		status.ChunkURLs[idx] = u
	}

	return status, nil
}

func (s *service) CompleteUpload(ctx context.Context, req domain.CompleteRequest) (domain.Artifact, error) {
	session, err := s.sessions.GetSession(ctx, req.UploadID)
	if err != nil {
		return domain.Artifact{}, err
	}

	if session.AssetID != req.AssetID || session.FileType != req.FileType {
		return domain.Artifact{}, fmt.Errorf("%w: upload %s belongs to asset %s/%s", domain.ErrInvalidRequest,
			req.UploadID, session.AssetID, session.FileType)
	}

	switch session.Status {
	case domain.StatusInitialized:
	case domain.StatusCompleting:
		return domain.Artifact{}, fmt.Errorf("%w: %s", domain.ErrUploadInProgress, req.UploadID)
	case domain.StatusFinalized:
		finalizations.WithLabelValues("incomplete").Inc()
		return domain.Artifact{}, fmt.Errorf("%w: upload %s was already finalized and its chunks removed",
			domain.ErrIncompleteUpload, req.UploadID)
	default:
		return domain.Artifact{}, fmt.Errorf("%w: upload %s is %s", domain.ErrUploadNotActive, req.UploadID, session.Status)
	}

	parts, err := s.verifyParts(ctx, session)
	if err != nil {
		finalizations.WithLabelValues("incomplete").Inc()
		return domain.Artifact{}, err
	}

	session, err = s.sessions.UpdateSession(ctx, req.UploadID, func(us *domain.UploadSession) error {
		if us.Status != domain.StatusInitialized {
			return fmt.Errorf("%w: %s", domain.ErrUploadInProgress, req.UploadID)
		}
		us.Status = domain.StatusCompleting
		return nil
	})
	if err != nil {
		return domain.Artifact{}, err
	}

	artifact, err := s.finalize(ctx, session, parts)
	if err != nil {
		return domain.Artifact{}, err
	}

	s.deleteParts(ctx, session)

	finalizedAt := s.now().UTC()
	if _, err = s.sessions.UpdateSession(ctx, req.UploadID, func(us *domain.UploadSession) error {
		us.Status = domain.StatusFinalized
		us.FinalizedAt = finalizedAt
		us.ExpiresAt = finalizedAt.Add(s.cfg.FinalizedRetention)
		us.ArtifactURL = artifact.URL
		us.ArtifactVersion = artifact.Version
		return nil
	}); err != nil {
		level.Error(s.logger).Log("msg", "can't mark session finalized", "upload_id", req.UploadID, "err", err)
	}

	finalizations.WithLabelValues("finalized").Inc()
	level.Info(s.logger).Log("msg", "upload finalized",
		"upload_id", req.UploadID,
		"asset_id", artifact.AssetID,
		"key", artifact.Key,
		"version", artifact.Version,
		"size", humanize.IBytes(uint64(artifact.Size)),
	)

	return artifact, nil
}

// verifyParts checks the object store holds every expected chunk and that
// they add up to the declared file size.
func (s *service) verifyParts(ctx context.Context, session domain.UploadSession) ([]domain.ChunkSlot, error) {
	parts := make([]domain.ChunkSlot, 0, len(session.Chunks))
	missing := make([]int, 0)

	var total int64
	for _, slot := range session.Chunks {
		info, err := s.storage.StatObject(ctx, slot.Key)
		if errors.Is(err, domain.ErrObjectNotFound) {
			missing = append(missing, slot.Index)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("can't stat chunk %d: %w", slot.Index, err)
		}

		slot.Size = info.ContentLength
		total += info.ContentLength
		parts = append(parts, slot)
	}

	if len(missing) > 0 {
		return nil, &domain.MissingChunksError{UploadID: session.ID, Indices: missing}
	}

	if total != session.FileSize {
		return nil, fmt.Errorf("%w: upload %s has %d bytes, declared %d", domain.ErrIncompleteUpload,
			session.ID, total, session.FileSize)
	}

	return parts, nil
}

func (s *service) finalize(ctx context.Context, session domain.UploadSession, parts []domain.ChunkSlot) (domain.Artifact, error) {
	start := s.now()
	defer func() {
		finalizeDuration.Observe(s.now().Sub(start).Seconds())
	}()

	// The destination key is shared by every upload of the asset, so the
	// claim must be held before a single byte is written there.
	err := s.artifacts.ClaimArtifact(ctx, session.AssetID, session.FileType, session.ID, session.BaseVersion, s.cfg.FinalizeLease)
	switch {
	case errors.Is(err, domain.ErrVersionConflict):
		s.failSession(ctx, session.ID)
		finalizations.WithLabelValues("conflict").Inc()
		return domain.Artifact{}, err
	case errors.Is(err, domain.ErrArtifactBusy):
		s.resetSession(ctx, session.ID)
		finalizations.WithLabelValues("busy").Inc()
		return domain.Artifact{}, err
	case err != nil:
		s.resetSession(ctx, session.ID)
		finalizations.WithLabelValues("failed").Inc()
		return domain.Artifact{}, fmt.Errorf("%w: can't claim artifact: %v", domain.ErrFinalizeFailed, err)
	}

	key := session.DestinationKey()
	contentType := session.FileType.ContentType(session.FileName)

	body := newPartsReader(ctx, s.storage, parts)
	defer body.Close()

	info, err := s.storage.PutObject(ctx, key, body, session.FileSize, contentType)
	if err != nil {
		s.releaseArtifact(ctx, session.AssetID, session.FileType, session.ID)
		s.resetSession(ctx, session.ID)
		finalizations.WithLabelValues("failed").Inc()
		return domain.Artifact{}, fmt.Errorf("%w: can't write %s: %v", domain.ErrFinalizeFailed, key, err)
	}

	artifactURL, err := s.artifactURL(key)
	if err != nil {
		s.releaseArtifact(ctx, session.AssetID, session.FileType, session.ID)
		s.resetSession(ctx, session.ID)
		return domain.Artifact{}, fmt.Errorf("%w: %v", domain.ErrFinalizeFailed, err)
	}

	artifact, err := s.artifacts.CommitArtifact(ctx, domain.Artifact{
		AssetID:     session.AssetID,
		FileType:    session.FileType,
		Key:         key,
		URL:         artifactURL,
		Size:        info.ContentLength,
		ContentType: contentType,
		UploadID:    session.ID,
		CreatedAt:   s.now().UTC(),
	}, session.BaseVersion)
	if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrArtifactBusy) {
		// the claim outlived its lease and someone else took over
		s.failSession(ctx, session.ID)
		finalizations.WithLabelValues("conflict").Inc()
		return domain.Artifact{}, err
	}
	if err != nil {
		s.releaseArtifact(ctx, session.AssetID, session.FileType, session.ID)
		s.resetSession(ctx, session.ID)
		finalizations.WithLabelValues("failed").Inc()
		return domain.Artifact{}, fmt.Errorf("%w: can't record artifact: %v", domain.ErrFinalizeFailed, err)
	}

	return artifact, nil
}

// resetSession returns a completing session to initialized so the client may
// retry completion.
func (s *service) resetSession(ctx context.Context, id string) {
	s.setStatus(ctx, id, domain.StatusInitialized)
}

func (s *service) failSession(ctx context.Context, id string) {
	s.setStatus(ctx, id, domain.StatusFailed)
}

func (s *service) setStatus(ctx context.Context, id string, status domain.SessionStatus) {
	_, err := s.sessions.UpdateSession(context.WithoutCancel(ctx), id, func(us *domain.UploadSession) error {
		us.Status = status
		return nil
	})
	if err != nil {
		level.Error(s.logger).Log("msg", "can't update session status", "upload_id", id, "status", status, "err", err)
	}
}

func (s *service) releaseArtifact(ctx context.Context, assetID string, fileType domain.FileType, owner string) {
	if err := s.artifacts.ReleaseArtifact(context.WithoutCancel(ctx), assetID, fileType, owner); err != nil {
		level.Error(s.logger).Log("msg", "can't release artifact claim", "asset_id", assetID, "file_type", fileType, "owner", owner, "err", err)
	}
}

func (s *service) discardPart(ctx context.Context, uploadID, key string) {
	if err := s.storage.DeleteObject(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, domain.ErrObjectNotFound) {
		level.Error(s.logger).Log("msg", "can't delete late chunk part", "upload_id", uploadID, "key", key, "err", err)
	}
}

func (s *service) artifactURL(key string) (string, error) {
	if s.cfg.CDNBaseURL == "" {
		return s.cfg.PublicURL + api.CDNPathPrefix + key, nil
	}

	return url.JoinPath(s.cfg.CDNBaseURL, key)
}

func (s *service) deleteParts(ctx context.Context, session domain.UploadSession) {
	ctx = context.WithoutCancel(ctx)
	for _, slot := range session.Chunks {
		if err := s.storage.DeleteObject(ctx, slot.Key); err != nil && !errors.Is(err, domain.ErrObjectNotFound) {
			// not critical, the session is done either way
			level.Error(s.logger).Log("msg", "can't delete chunk part", "upload_id", session.ID, "key", slot.Key, "err", err)
		}
	}
}

func (s *service) AbortUpload(ctx context.Context, uploadID string) error {
	session, err := s.sessions.UpdateSession(ctx, uploadID, func(us *domain.UploadSession) error {
		switch us.Status {
		case domain.StatusCompleting:
			return fmt.Errorf("%w: %s", domain.ErrUploadInProgress, uploadID)
		case domain.StatusFinalized:
			return fmt.Errorf("%w: upload %s is finalized", domain.ErrUploadNotActive, uploadID)
		}
		us.Status = domain.StatusFailed
		return nil
	})
	if err != nil {
		return err
	}

	s.deleteParts(ctx, session)

	if err = s.sessions.DeleteSession(ctx, uploadID); err != nil {
		return fmt.Errorf("can't delete session: %w", err)
	}

	level.Info(s.logger).Log("msg", "upload aborted", "upload_id", uploadID)

	return nil
}

func (s *service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.sessions.ListExpiredSessions(ctx, now, s.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("can't list expired sessions: %w", err)
	}

	removed := 0
	for _, session := range expired {
		if session.Status != domain.StatusFinalized {
			s.deleteParts(ctx, session)
		}

		if err = s.sessions.DeleteSession(ctx, session.ID); err != nil {
			return removed, fmt.Errorf("can't delete session %s: %w", session.ID, err)
		}

		removed++
		level.Debug(s.logger).Log("msg", "expired session removed", "upload_id", session.ID, "status", session.Status)
	}

	sessionsSwept.Add(float64(removed))

	return removed, nil
}

func (s *service) DirectUpload(ctx context.Context, req domain.DirectUploadRequest) (domain.Artifact, error) {
	if err := validateSegment("assetId", req.AssetID); err != nil {
		return domain.Artifact{}, err
	}
	if err := validateSegment("fileName", path.Base(req.FileName)); err != nil {
		return domain.Artifact{}, err
	}
	if _, err := domain.ParseFileType(string(req.FileType)); err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: %q", err, req.FileType)
	}
	if req.Size <= 0 {
		return domain.Artifact{}, fmt.Errorf("%w: empty file", domain.ErrInvalidRequest)
	}
	if limit := req.FileType.MaxDirectUploadSize(); req.Size > limit {
		return domain.Artifact{}, fmt.Errorf("%w: %s exceeds the %s limit for %s files", domain.ErrFileTooLarge,
			humanize.IBytes(uint64(req.Size)), humanize.IBytes(uint64(limit)), req.FileType)
	}

	key := domain.DestinationKey(req.AssetID, req.FileType, req.FileName)
	contentType := req.FileType.ContentType(req.FileName)

	// Direct uploads replace whatever is there, but never under a running finalize.
	owner := "direct-" + uuid.NewString()
	if err := s.artifacts.ClaimArtifact(ctx, req.AssetID, req.FileType, owner, -1, s.cfg.FinalizeLease); err != nil {
		return domain.Artifact{}, err
	}

	info, err := s.storage.PutObject(ctx, key, req.Body, req.Size, contentType)
	if err != nil {
		s.releaseArtifact(ctx, req.AssetID, req.FileType, owner)
		return domain.Artifact{}, fmt.Errorf("can't store %s: %w", key, err)
	}

	artifactURL, err := s.artifactURL(key)
	if err != nil {
		s.releaseArtifact(ctx, req.AssetID, req.FileType, owner)
		return domain.Artifact{}, err
	}

	artifact, err := s.artifacts.CommitArtifact(ctx, domain.Artifact{
		AssetID:     req.AssetID,
		FileType:    req.FileType,
		Key:         key,
		URL:         artifactURL,
		Size:        info.ContentLength,
		ContentType: contentType,
		UploadID:    owner,
		CreatedAt:   s.now().UTC(),
	}, -1)
	if err != nil {
		s.releaseArtifact(ctx, req.AssetID, req.FileType, owner)
		return domain.Artifact{}, fmt.Errorf("can't record artifact: %w", err)
	}

	level.Info(s.logger).Log("msg", "direct upload stored",
		"asset_id", req.AssetID,
		"key", key,
		"version", artifact.Version,
		"size", humanize.IBytes(uint64(artifact.Size)),
	)

	return artifact, nil
}

func (s *service) GetArtifact(ctx context.Context, assetID string, fileType domain.FileType) (domain.Artifact, error) {
	return s.artifacts.GetArtifact(ctx, assetID, fileType)
}

func (s *service) OpenObject(ctx context.Context, key string) (domain.Object, error) {
	if key == "" || strings.Contains(key, "..") {
		return domain.Object{}, fmt.Errorf("%w: invalid key %q", domain.ErrInvalidRequest, key)
	}
	// temp chunk parts are never served
	if !strings.HasPrefix(key, domain.AssetsPrefix) {
		return domain.Object{}, fmt.Errorf("%w: key = %s", domain.ErrObjectNotFound, key)
	}

	return s.storage.GetObject(ctx, key)
}
