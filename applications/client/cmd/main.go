package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/chunkup/applications/client/uploader"
)

// exitCode is a process termination code.
type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1
)

func main() {
	os.Exit(int(run()))
}

func run() exitCode {
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	}

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8002", "coordinator base url")
	filePath := fs.String("file", "", "file to upload")
	assetID := fs.String("asset", "", "asset id")
	fileType := fs.String("type", "glb", "file type: glb, reference or asset")
	chunkSize := fs.String("chunk-size", "3MiB", "chunk size")
	concurrency := fs.Int("concurrency", uploader.DefaultConcurrency, "parallel chunk uploads")
	retries := fs.Int("retries", uploader.DefaultMaxRetryPerChunk, "retries per request")
	resume := fs.String("resume", "", "upload id to resume")
	verbose := fs.Bool("verbose", false, "debug logging")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitFailure
	}

	if *verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	if *filePath == "" || (*assetID == "" && *resume == "") {
		fs.Usage()
		return exitFailure
	}

	size, err := humanize.ParseBytes(*chunkSize)
	if err != nil {
		level.Error(logger).Log("msg", "invalid chunk size", "err", err)
		return exitFailure
	}

	f, err := os.Open(*filePath)
	if err != nil {
		level.Error(logger).Log("msg", "can't open file", "err", err)
		return exitFailure
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		level.Error(logger).Log("msg", "can't stat file", "err", err)
		return exitFailure
	}

	cfg := uploader.DefaultConfig(*addr)
	cfg.ChunkSize = int64(size)
	cfg.Concurrency = *concurrency
	cfg.MaxRetryPerChunk = *retries
	cfg.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	progress := func(p uploader.Progress) {
		level.Info(logger).Log("status", p.Status, "progress", fmt.Sprintf("%.1f%%", p.Percent), "msg", p.Message)
	}

	up := uploader.New(cfg)

	var res uploader.Result
	if *resume != "" {
		res, err = up.Resume(ctx, *resume, f, stat.Size(), progress)
	} else {
		res, err = up.UploadFile(ctx, f, stat.Size(), filepath.Base(*filePath), *assetID, *fileType, progress)
	}
	if err != nil {
		var chunkErr *uploader.ChunkError
		if errors.As(err, &chunkErr) && ctx.Err() == nil {
			level.Error(logger).Log("msg", "upload interrupted, rerun with -resume "+chunkErr.UploadID, "err", err)
		} else {
			level.Error(logger).Log("msg", "upload failed", "err", err)
		}
		return exitFailure
	}

	fmt.Println(res.URL)

	return exitSuccess
}
