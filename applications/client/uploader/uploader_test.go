package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/chunkup/applications/api"
	"github.com/donmikel/chunkup/applications/server/adapters/inmemory"
	handlers "github.com/donmikel/chunkup/applications/server/handlers/http"
	"github.com/donmikel/chunkup/applications/server/services"
	"github.com/donmikel/chunkup/applications/server/signer"
)

// coordinator runs the real upload coordinator behind a middleware that
// records traffic and injects faults.
type coordinator struct {
	srv *httptest.Server

	mu         sync.Mutex
	stored     []int
	chunkSizes map[int]int64
	chunkURLs  []string
	inits      int
	completes  int
	aborts     int
	failChunk  map[int]bool
	delay      time.Duration
	putArrived chan struct{}

	// initStatus, when set, answers every init with this status.
	initStatus int
	// lostCompletes completes are applied but answered with a 502.
	lostCompletes int
}

func newCoordinator(t *testing.T) *coordinator {
	t.Helper()

	logger := log.NewNopLogger()
	urlSigner := signer.New("uploader-test")

	c := &coordinator{
		chunkSizes: map[int]int64{},
		failChunk:  map[int]bool{},
		putArrived: make(chan struct{}, 64),
	}

	c.srv = httptest.NewUnstartedServer(nil)
	svc := services.NewService(
		inmemory.NewSessionStorage(),
		inmemory.NewArtifactStorage(),
		inmemory.NewStorage(0, logger),
		urlSigner,
		services.Config{PublicURL: "http://" + c.srv.Listener.Addr().String()},
		logger,
	)

	c.srv.Config.Handler = c.middleware(handlers.NewRouter(svc, urlSigner, logger))
	c.srv.Start()
	t.Cleanup(c.srv.Close)

	return c
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (c *coordinator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/api/uploads/"):
			index, _ := strconv.Atoi(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:])

			c.mu.Lock()
			fail, delay := c.failChunk[index], c.delay
			c.chunkURLs = append(c.chunkURLs, "http://"+r.Host+r.URL.String())
			c.mu.Unlock()

			c.putArrived <- struct{}{}

			// drain the body so a client disconnect cancels r.Context()
			body, err := io.ReadAll(r.Body)
			if err != nil {
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-r.Context().Done():
					return
				}
			}

			if fail {
				http.Error(w, "storage unavailable", http.StatusInternalServerError)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status == http.StatusOK {
				c.mu.Lock()
				c.stored = append(c.stored, index)
				c.chunkSizes[index] = r.ContentLength
				c.mu.Unlock()
			}
			return
		case r.URL.Path == api.InitChunkedUploadPath:
			c.mu.Lock()
			c.inits++
			status := c.initStatus
			c.mu.Unlock()

			if status != 0 {
				http.Error(w, "gateway unavailable", status)
				return
			}
		case r.URL.Path == api.CompleteChunkedUploadPath:
			c.mu.Lock()
			c.completes++
			lost := c.lostCompletes > 0
			if lost {
				c.lostCompletes--
			}
			c.mu.Unlock()

			if lost {
				next.ServeHTTP(httptest.NewRecorder(), r)
				http.Error(w, "upstream timeout", http.StatusBadGateway)
				return
			}
		case r.URL.Path == api.AbortChunkedUploadPath:
			c.mu.Lock()
			c.aborts++
			c.mu.Unlock()
		}

		next.ServeHTTP(w, r)
	})
}

func (c *coordinator) storedChunks() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := append([]int(nil), c.stored...)
	sort.Ints(out)

	return out
}

// countingTransport tracks how many chunk PUTs are in flight at once.
type countingTransport struct {
	base        http.RoundTripper
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPut {
		n := c.inFlight.Add(1)
		defer c.inFlight.Add(-1)

		for {
			m := c.maxInFlight.Load()
			if n <= m || c.maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
	}

	return c.base.RoundTrip(req)
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig(baseURL)
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond

	return cfg
}

func randomBytes(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)

	return data
}

func fetch(t *testing.T, rawURL string) []byte {
	t.Helper()

	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return data
}

func TestChunkRanges(t *testing.T) {
	tests := []struct {
		size, chunkSize int64
		want            []ChunkRange
	}{
		{size: 0, chunkSize: 3, want: nil},
		{size: 3, chunkSize: 3, want: []ChunkRange{{0, 0, 3}}},
		{size: 10, chunkSize: 3, want: []ChunkRange{{0, 0, 3}, {1, 3, 3}, {2, 6, 3}, {3, 9, 1}}},
		{size: 2, chunkSize: 5, want: []ChunkRange{{0, 0, 2}}},
	}

	for _, tt := range tests {
		t.Run(strconv.FormatInt(tt.size, 10)+"/"+strconv.FormatInt(tt.chunkSize, 10), func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkRanges(tt.size, tt.chunkSize))
		})
	}
}

func TestChunkRangesCoverFile(t *testing.T) {
	for _, size := range []int64{1, 7, 1 << 20, 10<<20 + 17} {
		for _, chunkSize := range []int64{1, 3, 4096, 3 << 20} {
			ranges := ChunkRanges(size, chunkSize)
			require.Len(t, ranges, int((size+chunkSize-1)/chunkSize))

			var next int64
			for i, r := range ranges {
				assert.Equal(t, i, r.Index)
				assert.Equal(t, next, r.Offset)
				assert.Positive(t, r.Size)
				assert.LessOrEqual(t, r.Size, chunkSize)
				next += r.Size
			}
			assert.Equal(t, size, next)
		}
	}
}

func TestUploadFileTenMiB(t *testing.T) {
	c := newCoordinator(t)
	data := randomBytes(10 << 20)

	var progress []Progress
	u := New(testConfig(c.srv.URL))
	res, err := u.UploadFile(context.Background(), bytes.NewReader(data), int64(len(data)),
		"robot.glb", "asset-1", "glb", func(p Progress) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, c.storedChunks())
	assert.Equal(t, map[int]int64{0: 3 << 20, 1: 3 << 20, 2: 3 << 20, 3: 1 << 20}, c.chunkSizes)
	assert.Equal(t, 1, c.completes)

	cdn, err := url.Parse(res.URL)
	require.NoError(t, err)
	assert.Equal(t, "http", cdn.Scheme)
	assert.NotEmpty(t, cdn.Host)
	assert.Equal(t, "/cdn/assets/asset-1/models/robot.glb", cdn.Path)
	assert.NotContains(t, c.chunkURLs, res.URL)
	assert.Equal(t, int64(1), res.Version)

	assert.Equal(t, data, fetch(t, res.URL))

	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i].Percent, progress[i-1].Percent)
	}
	last := progress[len(progress)-1]
	assert.Equal(t, StatusComplete, last.Status)
	assert.Equal(t, 100.0, last.Percent)
	assert.Equal(t, 4, last.TotalChunks)
}

func TestUploadFileSmallChunks(t *testing.T) {
	c := newCoordinator(t)
	data := []byte("0123456789")

	cfg := testConfig(c.srv.URL)
	cfg.ChunkSize = 3
	res, err := New(cfg).UploadFile(context.Background(), bytes.NewReader(data), int64(len(data)),
		"digits.bin", "asset-2", "asset", nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, c.storedChunks())
	assert.Equal(t, map[int]int64{0: 3, 1: 3, 2: 3, 3: 1}, c.chunkSizes)
	assert.Equal(t, data, fetch(t, res.URL))
}

func TestUploadFileConcurrencyLimit(t *testing.T) {
	c := newCoordinator(t)
	c.delay = 20 * time.Millisecond
	data := randomBytes(64)

	transport := &countingTransport{base: http.DefaultTransport}
	cfg := testConfig(c.srv.URL)
	cfg.ChunkSize = 8
	cfg.Concurrency = 3
	cfg.HTTPClient = &http.Client{Transport: transport}

	_, err := New(cfg).UploadFile(context.Background(), bytes.NewReader(data), int64(len(data)),
		"blob.bin", "asset-3", "asset", nil)
	require.NoError(t, err)

	assert.Len(t, c.storedChunks(), 8)
	assert.LessOrEqual(t, transport.maxInFlight.Load(), int32(3))
	assert.Positive(t, transport.maxInFlight.Load())
}

func TestUploadFileChunkFailure(t *testing.T) {
	c := newCoordinator(t)
	c.failChunk[1] = true
	data := randomBytes(40)

	var last Progress
	cfg := testConfig(c.srv.URL)
	cfg.ChunkSize = 10
	cfg.Concurrency = 1
	cfg.MaxRetryPerChunk = 2

	res, err := New(cfg).UploadFile(context.Background(), bytes.NewReader(data), int64(len(data)),
		"blob.bin", "asset-4", "asset", func(p Progress) { last = p })
	require.Error(t, err)

	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 1, chunkErr.Index)
	assert.Equal(t, res.UploadID, chunkErr.UploadID)
	assert.NotEmpty(t, res.UploadID)

	assert.Zero(t, c.completes)
	assert.Zero(t, c.aborts)
	assert.Equal(t, StatusError, last.Status)

	// one attempt plus two retries
	attempts := 0
	for _, u := range c.chunkURLs {
		if strings.Contains(u, "/chunks/1?") {
			attempts++
		}
	}
	assert.Equal(t, 3, attempts)
}

func TestResume(t *testing.T) {
	c := newCoordinator(t)
	c.failChunk[2] = true
	data := randomBytes(40)

	cfg := testConfig(c.srv.URL)
	cfg.ChunkSize = 10
	cfg.Concurrency = 1
	cfg.MaxRetryPerChunk = 0
	u := New(cfg)

	res, err := u.UploadFile(context.Background(), bytes.NewReader(data), int64(len(data)),
		"blob.bin", "asset-5", "asset", nil)
	require.Error(t, err)
	assert.Equal(t, []int{0, 1}, c.storedChunks())

	c.mu.Lock()
	delete(c.failChunk, 2)
	c.stored = nil
	c.mu.Unlock()

	resumed, err := u.Resume(context.Background(), res.UploadID, bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, c.storedChunks())
	assert.Equal(t, 1, c.completes)
	assert.Equal(t, res.UploadID, resumed.UploadID)
	assert.Equal(t, data, fetch(t, resumed.URL))

	t.Run("already finalized", func(t *testing.T) {
		again, err := u.Resume(context.Background(), res.UploadID, bytes.NewReader(data), int64(len(data)), nil)
		require.NoError(t, err)
		assert.Equal(t, resumed.URL, again.URL)
	})
}

func TestUploadFileCancelAborts(t *testing.T) {
	c := newCoordinator(t)
	c.delay = 5 * time.Second
	data := randomBytes(30)

	cfg := testConfig(c.srv.URL)
	cfg.ChunkSize = 10

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c.putArrived
		cancel()
	}()

	res, err := New(cfg).UploadFile(ctx, bytes.NewReader(data), int64(len(data)), "blob.bin", "asset-6", "asset", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, c.aborts)
	assert.Zero(t, c.completes)

	_, err = New(cfg).uploadStatus(context.Background(), res.UploadID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestUploadFileRejectsEmpty(t *testing.T) {
	_, err := New(DefaultConfig("http://localhost")).UploadFile(context.Background(), bytes.NewReader(nil), 0,
		"empty.bin", "asset-7", "asset", nil)
	assert.Error(t, err)
}

func TestUploadFileInitError(t *testing.T) {
	c := newCoordinator(t)

	_, err := New(testConfig(c.srv.URL)).UploadFile(context.Background(), strings.NewReader("abc"), 3,
		"clip.mov", "asset-8", "video", nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, api.CodeInvalidRequest, apiErr.Code)
}

func TestUploadFileInitNotRetried(t *testing.T) {
	c := newCoordinator(t)
	c.initStatus = http.StatusServiceUnavailable

	_, err := New(testConfig(c.srv.URL)).UploadFile(context.Background(), strings.NewReader("abc"), 3,
		"robot.glb", "asset-9", "glb", nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, 1, c.inits)
}

func TestUploadFileLostCompleteResponse(t *testing.T) {
	c := newCoordinator(t)
	c.lostCompletes = 1

	data := randomBytes(5 << 10)
	cfg := testConfig(c.srv.URL)
	cfg.ChunkSize = 2 << 10

	var last Progress
	res, err := New(cfg).UploadFile(context.Background(), bytes.NewReader(data), int64(len(data)),
		"robot.glb", "asset-10", "glb", func(p Progress) { last = p })
	require.NoError(t, err)

	// the retry hit an already finalized session
	assert.Equal(t, 2, c.completes)
	assert.Equal(t, int64(1), res.Version)
	assert.Equal(t, StatusComplete, last.Status)
	assert.Equal(t, data, fetch(t, res.URL))
}
