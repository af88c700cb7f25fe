package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	StorageMemory = "memory"
	StorageS3     = "s3"

	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

type Server struct {
	API      Api      `yaml:"api"`
	Upload   Upload   `yaml:"upload"`
	Storage  Storage  `yaml:"storage"`
	Sessions Sessions `yaml:"sessions"`
	LogLevel string   `yaml:"log_level,omitempty"`
}

type Api struct {
	HTTPAddr string `yaml:"http_addr"`
	// PublicURL is how clients reach this server. Chunk URLs are built on it.
	PublicURL string `yaml:"public_url,omitempty"`
	// CDNBaseURL prefixes artifact keys. Empty means the server's own /cdn/ route.
	CDNBaseURL string `yaml:"cdn_base_url,omitempty"`
}

type Upload struct {
	SigningSecret      string        `yaml:"signing_secret,omitempty"`
	SessionTTL         time.Duration `yaml:"session_ttl,omitempty"`
	FinalizedRetention time.Duration `yaml:"finalized_retention,omitempty"`
	ChunkURLTTL        time.Duration `yaml:"chunk_url_ttl,omitempty"`
	MaxChunkSize       int64         `yaml:"max_chunk_size,omitempty"`
	MaxTotalChunks     int           `yaml:"max_total_chunks,omitempty"`
	SweepInterval      time.Duration `yaml:"sweep_interval,omitempty"`
	FinalizeLease      time.Duration `yaml:"finalize_lease,omitempty"`
	Presign            bool          `yaml:"presign,omitempty"`
}

type Storage struct {
	Type string `yaml:"type,omitempty"`
	// CapacityInBytes bounds the memory store.
	CapacityInBytes int64 `yaml:"capacity_in_bytes,omitempty"`
	S3              S3    `yaml:"s3,omitempty"`
}

type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	PathStyle       bool   `yaml:"path_style,omitempty"`
	PartSize        int64  `yaml:"part_size,omitempty"`
}

type Sessions struct {
	Type  string `yaml:"type,omitempty"`
	Redis Redis  `yaml:"redis,omitempty"`
}

type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// Parse reads a yaml config file. Values of the form ${VAR} are expanded
// from the environment before decoding.
func Parse(path string) (Server, error) {
	var cfg Server

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("can't read config file: %w", err)
	}

	if err = yaml.UnmarshalStrict([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("can't parse config file: %w", err)
	}

	return cfg, nil
}

func (s Server) Validate() error {
	if s.API.HTTPAddr == "" {
		return errors.New("api.http_addr is required")
	}

	for name, raw := range map[string]string{
		"api.public_url":   s.API.PublicURL,
		"api.cdn_base_url": s.API.CDNBaseURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute url, got %q", name, raw)
		}
	}

	if s.Upload.MaxChunkSize < 0 || s.Upload.MaxTotalChunks < 0 {
		return errors.New("upload limits must not be negative")
	}

	switch s.Storage.Type {
	case "", StorageMemory:
	case StorageS3:
		if s.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required")
		}
	default:
		return fmt.Errorf("unknown storage type %q", s.Storage.Type)
	}

	if s.Upload.Presign && s.Storage.Type != StorageS3 {
		return errors.New("upload.presign requires s3 storage")
	}

	switch s.Sessions.Type {
	case "", SessionsMemory:
	case SessionsRedis:
		if s.Sessions.Redis.Addr == "" {
			return errors.New("sessions.redis.addr is required")
		}
	default:
		return fmt.Errorf("unknown sessions type %q", s.Sessions.Type)
	}

	return nil
}
