package uploader

import (
	"net/http"
	"time"

	"github.com/go-kit/log"
)

const (
	DefaultChunkSize        = 3 << 20 // 3 MiB
	DefaultConcurrency      = 3
	DefaultMaxRetryPerChunk = 3
	DefaultRetryWaitMin     = 500 * time.Millisecond
	DefaultRetryWaitMax     = 10 * time.Second
)

// Config holds configuration for the uploader.
type Config struct {
	// BaseURL is the coordinator address, e.g. https://upload.example.com.
	BaseURL string

	// ChunkSize is the size of every chunk but the last.
	// Default: 3 MiB
	ChunkSize int64

	// Concurrency is the maximum number of chunk uploads in flight.
	// Default: 3
	Concurrency int

	// MaxRetryPerChunk is how many times a failed request is retried.
	// Zero disables retries. DefaultConfig sets 3
	MaxRetryPerChunk int

	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// HTTPClient is the underlying client. If nil, a pooled default is used.
	HTTPClient *http.Client

	Logger log.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:          baseURL,
		ChunkSize:        DefaultChunkSize,
		Concurrency:      DefaultConcurrency,
		MaxRetryPerChunk: DefaultMaxRetryPerChunk,
		RetryWaitMin:     DefaultRetryWaitMin,
		RetryWaitMax:     DefaultRetryWaitMax,
	}
}

func (c *Config) setDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetryPerChunk < 0 {
		c.MaxRetryPerChunk = DefaultMaxRetryPerChunk
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = DefaultRetryWaitMin
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		c.RetryWaitMax = DefaultRetryWaitMax
		if c.RetryWaitMax < c.RetryWaitMin {
			c.RetryWaitMax = c.RetryWaitMin
		}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = defaultHTTPClient(c.Concurrency)
	}
	if c.Logger == nil {
		c.Logger = log.NewNopLogger()
	}
}

func defaultHTTPClient(concurrency int) *http.Client {
	return &http.Client{
		// No timeout - chunk deadlines come from the context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     concurrency + 2,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
