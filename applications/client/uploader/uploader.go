package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/donmikel/chunkup/applications/api"
)

const (
	// chunk transfer covers this share of the reported progress, finalize the rest
	uploadShare = 80.0

	abortTimeout = 10 * time.Second

	sessionInitialized = "initialized"
	sessionFinalized   = "finalized"
)

// Uploader performs chunked uploads against a coordinator.
type Uploader struct {
	cfg         Config
	baseURL     string
	chunkClient *retryablehttp.Client
	apiClient   *retryablehttp.Client
	onceClient  *retryablehttp.Client
	logger      log.Logger
}

// New creates a new Uploader with the given configuration.
func New(cfg Config) *Uploader {
	cfg.setDefaults()

	once := cfg
	once.MaxRetryPerChunk = 0

	return &Uploader{
		cfg:         cfg,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		chunkClient: newRetryClient(cfg, retryablehttp.DefaultRetryPolicy),
		apiClient:   newRetryClient(cfg, apiRetryPolicy),
		onceClient:  newRetryClient(once, apiRetryPolicy),
		logger:      cfg.Logger,
	}
}

func newRetryClient(cfg Config, policy retryablehttp.CheckRetry) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.HTTPClient = cfg.HTTPClient
	client.Logger = leveledLogger{logger: cfg.Logger}
	client.RetryMax = cfg.MaxRetryPerChunk
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.CheckRetry = policy
	// hand the last response back so its error body can be decoded
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return client
}

// UploadFile uploads size bytes of file as fileName to the given asset.
// When a chunk fails for good the returned error is a *ChunkError and the
// upload can be continued with Resume. When ctx is cancelled the session is
// aborted.
func (u *Uploader) UploadFile(
	ctx context.Context,
	file io.ReaderAt,
	size int64,
	fileName, assetID, fileType string,
	progress ProgressFunc,
) (Result, error) {
	if size <= 0 {
		return Result{}, errors.New("file is empty")
	}

	ranges := ChunkRanges(size, u.cfg.ChunkSize)
	tracker := newProgressTracker(progress, len(ranges), 0)
	tracker.report(StatusUploading, 0, 0, "initializing upload")

	initResp, err := u.initUpload(ctx, api.InitChunkedUploadRequest{
		FileName:    fileName,
		FileType:    fileType,
		AssetID:     assetID,
		TotalChunks: len(ranges),
		FileSize:    size,
	})
	if err != nil {
		tracker.fail(err)
		return Result{}, fmt.Errorf("can't init upload: %w", err)
	}

	if len(initResp.ChunkURLs) != len(ranges) {
		err = fmt.Errorf("coordinator issued %d chunk urls for %d chunks", len(initResp.ChunkURLs), len(ranges))
		tracker.fail(err)
		return Result{UploadID: initResp.UploadID}, err
	}

	urls := make(map[int]string, len(ranges))
	for i, rawURL := range initResp.ChunkURLs {
		urls[i] = rawURL
	}

	level.Info(u.logger).Log("msg", "upload started",
		"upload_id", initResp.UploadID,
		"file", fileName,
		"size", humanize.IBytes(uint64(size)),
		"chunks", len(ranges),
	)

	return u.transfer(ctx, initResp.UploadID, assetID, fileType, file, ranges, urls, tracker)
}

// Resume uploads the chunks an earlier attempt did not deliver and
// completes the upload. file and size must describe the same content.
func (u *Uploader) Resume(ctx context.Context, uploadID string, file io.ReaderAt, size int64, progress ProgressFunc) (Result, error) {
	status, err := u.uploadStatus(ctx, uploadID)
	if err != nil {
		return Result{UploadID: uploadID}, fmt.Errorf("can't get upload status: %w", err)
	}

	switch status.Status {
	case sessionInitialized:
	case sessionFinalized:
		return Result{UploadID: uploadID, URL: status.CDNURL, Version: status.Version}, nil
	default:
		return Result{UploadID: uploadID}, fmt.Errorf("upload %s can't be resumed, it is %s", uploadID, status.Status)
	}

	if status.FileSize != size {
		return Result{UploadID: uploadID}, fmt.Errorf("upload %s expects %d bytes, got %d", uploadID, status.FileSize, size)
	}

	ranges := ChunkRanges(size, u.cfg.ChunkSize)
	if len(ranges) != status.TotalChunks {
		return Result{UploadID: uploadID}, fmt.Errorf("upload %s has %d chunks, chunk size %d gives %d",
			uploadID, status.TotalChunks, u.cfg.ChunkSize, len(ranges))
	}

	pending := make([]ChunkRange, 0, len(status.MissingChunks))
	for _, idx := range status.MissingChunks {
		if idx < 0 || idx >= len(ranges) {
			return Result{UploadID: uploadID}, fmt.Errorf("coordinator reported unknown chunk %d", idx)
		}
		pending = append(pending, ranges[idx])
	}

	tracker := newProgressTracker(progress, len(ranges), len(ranges)-len(pending))
	tracker.report(StatusUploading, 0, tracker.chunkPercent(), "resuming upload")

	level.Info(u.logger).Log("msg", "resuming upload",
		"upload_id", uploadID,
		"missing", len(pending),
		"chunks", len(ranges),
	)

	return u.transfer(ctx, uploadID, status.AssetID, status.FileType, file, pending, status.ChunkURLs, tracker)
}

// Abort discards the session and everything uploaded for it.
func (u *Uploader) Abort(ctx context.Context, uploadID string) error {
	return u.abortUpload(ctx, uploadID)
}

func (u *Uploader) transfer(
	ctx context.Context,
	uploadID, assetID, fileType string,
	file io.ReaderAt,
	ranges []ChunkRange,
	urls map[int]string,
	tracker *progressTracker,
) (Result, error) {
	if err := u.uploadChunks(ctx, uploadID, file, ranges, urls, tracker); err != nil {
		tracker.fail(err)

		if ctx.Err() != nil {
			abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
			defer cancel()
			if aerr := u.abortUpload(abortCtx, uploadID); aerr != nil {
				level.Warn(u.logger).Log("msg", "can't abort cancelled upload", "upload_id", uploadID, "err", aerr)
			}
		}

		return Result{UploadID: uploadID}, err
	}

	tracker.report(StatusProcessing, 0, uploadShare, "assembling file")

	resp, err := u.completeUpload(ctx, api.CompleteChunkedUploadRequest{
		UploadID: uploadID,
		AssetID:  assetID,
		FileType: fileType,
	})
	if err != nil {
		// A retried complete fails once an earlier attempt got through, so
		// the session decides.
		status, serr := u.uploadStatus(ctx, uploadID)
		if serr != nil || status.Status != sessionFinalized {
			tracker.fail(err)
			return Result{UploadID: uploadID}, fmt.Errorf("can't complete upload %s: %w", uploadID, err)
		}

		level.Warn(u.logger).Log("msg", "complete failed but the upload is finalized", "upload_id", uploadID, "err", err)
		resp = api.CompleteChunkedUploadResponse{CDNURL: status.CDNURL, Version: status.Version}
	}

	tracker.report(StatusComplete, 0, 100, "upload complete")

	level.Info(u.logger).Log("msg", "upload complete",
		"upload_id", uploadID,
		"url", resp.CDNURL,
		"version", resp.Version,
	)

	return Result{
		UploadID: uploadID,
		URL:      resp.CDNURL,
		Version:  resp.Version,
	}, nil
}

func (u *Uploader) uploadChunks(
	ctx context.Context,
	uploadID string,
	file io.ReaderAt,
	ranges []ChunkRange,
	urls map[int]string,
	tracker *progressTracker,
) error {
	for _, r := range ranges {
		if _, ok := urls[r.Index]; !ok {
			return &ChunkError{UploadID: uploadID, Index: r.Index, Err: errors.New("no upload url issued")}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)

	for _, r := range ranges {
		if gctx.Err() != nil {
			break
		}

		rawURL := urls[r.Index]
		g.Go(func() error {
			start := time.Now()
			if err := u.putChunk(gctx, rawURL, file, r); err != nil {
				return &ChunkError{UploadID: uploadID, Index: r.Index, Err: err}
			}

			level.Debug(u.logger).Log("msg", "chunk uploaded",
				"upload_id", uploadID,
				"index", r.Index,
				"size", humanize.IBytes(uint64(r.Size)),
				"took", time.Since(start).Round(time.Millisecond),
			)
			tracker.chunkDone(r.Index)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

type progressTracker struct {
	mu    sync.Mutex
	fn    ProgressFunc
	total int
	done  int
	last  float64
}

func newProgressTracker(fn ProgressFunc, total, done int) *progressTracker {
	return &progressTracker{fn: fn, total: total, done: done}
}

func (p *progressTracker) chunkPercent() float64 {
	if p.total == 0 {
		return 0
	}

	return float64(p.done) / float64(p.total) * uploadShare
}

func (p *progressTracker) chunkDone(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	p.emit(StatusUploading, index+1, p.chunkPercent(), fmt.Sprintf("uploaded chunk %d/%d", p.done, p.total))
}

func (p *progressTracker) report(status Status, current int, percent float64, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.emit(status, current, percent, msg)
}

func (p *progressTracker) fail(err error) {
	p.report(StatusError, 0, 0, err.Error())
}

// emit must be called with mu held.
func (p *progressTracker) emit(status Status, current int, percent float64, msg string) {
	if percent < p.last {
		percent = p.last
	}
	p.last = percent

	if p.fn == nil {
		return
	}

	p.fn(Progress{
		CurrentChunk: current,
		TotalChunks:  p.total,
		Status:       status,
		Percent:      percent,
		Message:      msg,
	})
}
