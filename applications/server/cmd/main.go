package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/donmikel/chunkup/applications/server"
	"github.com/donmikel/chunkup/applications/server/adapters/inmemory"
	"github.com/donmikel/chunkup/applications/server/adapters/redisstore"
	"github.com/donmikel/chunkup/applications/server/adapters/s3store"
	"github.com/donmikel/chunkup/applications/server/config"
	"github.com/donmikel/chunkup/applications/server/handlers/http"
	"github.com/donmikel/chunkup/applications/server/interfaces"
	"github.com/donmikel/chunkup/applications/server/services"
	"github.com/donmikel/chunkup/applications/server/signer"
)

// exitCode is a process termination code.
type exitCode int

// Possible process termination codes are listed below.
const (
	// exitSuccess is code for successful program termination.
	exitSuccess exitCode = 0
	// exitFailure is code for unsuccessful program termination.
	exitFailure exitCode = 1
)

// Kubernetes (rolling update) doesn't wait until a pod is out of rotation before sending SIGTERM,
// and external LB could still route traffic to a non-existing pod resulting in a surge of 50x API errors.
// It's recommended to wait for 5 seconds before terminating the program; see references
// https://github.com/kubernetes-retired/contrib/issues/1140, https://youtu.be/me5iyiheOC8?t=1797.
const preStopWait = 5 * time.Second

// Shutdown timeout for http servers.
const shutdownTimeout = 5 * time.Second

var (
	// version is the service version from git tag.
	version = ""
)

func main() {
	os.Exit(int(gracefulMain()))
}

// gracefulMain releases resources gracefully upon termination.
// When we call os.Exit defer statements do not run resulting in unclean process shutdown.
// nolint
func gracefulMain() exitCode {
	var logger log.Logger
	{
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("config", "", "path to the config file")
	v := fs.Bool("v", false, "Show version")

	err := fs.Parse(os.Args[1:])
	if err == flag.ErrHelp {
		return exitSuccess
	}
	if err != nil {
		logger.Log("msg", "parsing cli flags failed", "err", err)
		return exitFailure
	}

	if *v {
		if version == "" {
			level.Error(logger).Log("msg", "version not set")
		} else {
			level.Info(logger).Log("version", version)
		}

		return exitSuccess
	}

	logger.Log("configPath", *configPath)

	cfg, err := config.Parse(*configPath)
	if err != nil {
		logger.Log("msg", "cannot parse service config", "err", err)
		return exitFailure
	}

	err = cfg.Validate()
	if err != nil {
		logger.Log("msg", "config validation failed", "err", err)
		return exitFailure
	}

	logger = level.NewFilter(logger, logLevel(cfg.LogLevel))

	// It's nice to be able to see panics in Logs, hence we monitor for panics after
	// logger has been bootstrapped.
	defer monitorPanic(logger)
	ctx := context.Background()

	var storage interfaces.Storage
	switch cfg.Storage.Type {
	case config.StorageS3:
		s3cfg := cfg.Storage.S3
		storage, err = s3store.NewStorage(ctx, s3store.Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			PathStyle:       s3cfg.PathStyle,
			PartSize:        s3cfg.PartSize,
		}, logger)
		if err != nil {
			level.Error(logger).Log("msg", "error creating s3 storage", "err", err)
			return exitFailure
		}
	default:
		storage = inmemory.NewStorage(cfg.Storage.CapacityInBytes, logger)
	}

	var (
		sessionStorage  interfaces.SessionStorage
		artifactStorage interfaces.ArtifactStorage
	)
	switch cfg.Sessions.Type {
	case config.SessionsRedis:
		rcfg := cfg.Sessions.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rcfg.Addr,
			Password: rcfg.Password,
			DB:       rcfg.DB,
		})
		defer client.Close()

		if err = client.Ping(ctx).Err(); err != nil {
			level.Error(logger).Log("msg", "redis is unreachable", "addr", rcfg.Addr, "err", err)
			return exitFailure
		}

		prefix := rcfg.KeyPrefix
		if prefix == "" {
			prefix = redisstore.DefaultKeyPrefix
		}
		sessionStorage = redisstore.NewSessionStorage(client, prefix, logger)
		artifactStorage = redisstore.NewArtifactStorage(client, prefix)
	default:
		sessionStorage = inmemory.NewSessionStorage()
		artifactStorage = inmemory.NewArtifactStorage()
	}

	secret := cfg.Upload.SigningSecret
	if secret == "" {
		// chunk urls won't survive a restart
		secret = uuid.NewString()
		level.Warn(logger).Log("msg", "upload.signing_secret is not set, using a random one")
	}
	urlSigner := signer.New(secret)

	var uploadService server.UploadService
	{
		uploadService = services.NewService(sessionStorage, artifactStorage, storage, urlSigner, services.Config{
			PublicURL:          publicURL(cfg.API),
			CDNBaseURL:         cfg.API.CDNBaseURL,
			SessionTTL:         cfg.Upload.SessionTTL,
			FinalizedRetention: cfg.Upload.FinalizedRetention,
			ChunkURLTTL:        cfg.Upload.ChunkURLTTL,
			MaxChunkSize:       cfg.Upload.MaxChunkSize,
			MaxTotalChunks:     cfg.Upload.MaxTotalChunks,
			FinalizeLease:      cfg.Upload.FinalizeLease,
			Presign:            cfg.Upload.Presign,
		}, logger)
	}

	sweeper := services.NewSweeper(uploadService, cfg.Upload.SweepInterval, logger)

	hServer := http.NewHTTPServer(cfg.API, uploadService, urlSigner, logger)

	level.Info(logger).Log("msg", "starting upload coordinator",
		"addr", cfg.API.HTTPAddr,
		"storage", storage.Name(),
		"sessions", sessionsName(cfg.Sessions.Type),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-sig:
			level.Info(logger).Log("msg", fmt.Sprintf("signal received (waiting %v before terminating): %v", preStopWait, s))
			time.Sleep(preStopWait)
			level.Info(logger).Log("msg", "terminating...")

			return fmt.Errorf("signal received: %s", s)
		}
	})

	group.Go(func() error {
		if err := hServer.ListenAndServe(); err != nil {
			return fmt.Errorf("listen and server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return sweeper.Run(ctx)
	})

	group.Go(func() error {
		<-ctx.Done()

		level.Info(logger).Log("msg", "graceful shutdown of server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}

		return ctx.Err()
	})

	if err = group.Wait(); err != nil {
		level.Error(logger).Log("msg", fmt.Sprintf("actors stopped with err: %v", err))
		return exitFailure
	}

	level.Info(logger).Log("msg", "actors stopped without errors")

	return exitSuccess
}

func publicURL(conf config.Api) string {
	if conf.PublicURL != "" {
		return conf.PublicURL
	}

	return "http://" + conf.HTTPAddr
}

func sessionsName(t string) string {
	if t == "" {
		return config.SessionsMemory
	}

	return t
}

func logLevel(name string) level.Option {
	switch name {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// monitorPanic monitors panics and reports them somewhere (e.g. logs, ...).
func monitorPanic(logger log.Logger) {
	if rec := recover(); rec != nil {
		err := fmt.Sprintf("panic: %v \n stack trace: %s", rec, debug.Stack())
		level.Error(logger).Log("err", err)
		panic(err)
	}
}
