package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/chunkup/applications/api"
	"github.com/donmikel/chunkup/applications/server/adapters/inmemory"
	"github.com/donmikel/chunkup/applications/server/services"
	"github.com/donmikel/chunkup/applications/server/signer"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := log.NewNopLogger()
	urlSigner := signer.New("handler-secret")

	srv := httptest.NewUnstartedServer(nil)
	publicURL := "http://" + srv.Listener.Addr().String()

	svc := services.NewService(
		inmemory.NewSessionStorage(),
		inmemory.NewArtifactStorage(),
		inmemory.NewStorage(0, logger),
		urlSigner,
		services.Config{PublicURL: publicURL, MaxChunkSize: 1 << 10},
		logger,
	)

	srv.Config.Handler = NewRouter(svc, urlSigner, logger)
	srv.Start()
	t.Cleanup(srv.Close)

	return srv
}

func doJSON(t *testing.T, method, rawURL string, body interface{}, out interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, rawURL, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp
}

func putChunk(t *testing.T, rawURL, data string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPut, rawURL, strings.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	return resp
}

func initUpload(t *testing.T, srv *httptest.Server, chunks []string) api.InitChunkedUploadResponse {
	t.Helper()

	var size int64
	for _, c := range chunks {
		size += int64(len(c))
	}

	var out api.InitChunkedUploadResponse
	resp := doJSON(t, http.MethodPost, srv.URL+api.InitChunkedUploadPath, api.InitChunkedUploadRequest{
		FileName:    "robot.glb",
		FileType:    "glb",
		AssetID:     "asset-9",
		TotalChunks: len(chunks),
		FileSize:    size,
	}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.ChunkURLs, len(chunks))

	return out
}

func TestChunkedUploadFlow(t *testing.T) {
	srv := newTestServer(t)
	chunks := []string{"glTF", "-binary", "-payload"}

	initResp := initUpload(t, srv, chunks)
	assert.NotEmpty(t, initResp.UploadID)

	seen := map[string]bool{}
	for _, u := range initResp.ChunkURLs {
		assert.False(t, seen[u], "duplicate chunk url %s", u)
		seen[u] = true
	}

	for i := len(chunks) - 1; i >= 0; i-- {
		resp := putChunk(t, initResp.ChunkURLs[i], chunks[i])
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("ETag"))
	}

	var status api.UploadStatusResponse
	resp := doJSON(t, http.MethodGet, srv.URL+api.StatusURLPath(initResp.UploadID), nil, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int{0, 1, 2}, status.ReceivedChunks)
	assert.Empty(t, status.MissingChunks)

	var done api.CompleteChunkedUploadResponse
	resp = doJSON(t, http.MethodPost, srv.URL+api.CompleteChunkedUploadPath, api.CompleteChunkedUploadRequest{
		UploadID: initResp.UploadID,
		AssetID:  "asset-9",
		FileType: "glb",
	}, &done)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), done.Version)
	assert.Equal(t, srv.URL+"/cdn/assets/asset-9/models/robot.glb", done.CDNURL)

	cdn, err := http.Get(done.CDNURL)
	require.NoError(t, err)
	defer cdn.Body.Close()
	body, err := io.ReadAll(cdn.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, cdn.StatusCode)
	assert.Equal(t, "glTF-binary-payload", string(body))
	assert.Equal(t, "model/gltf-binary", cdn.Header.Get("Content-Type"))

	var artifact struct {
		Key     string `json:"key"`
		Version int64  `json:"version"`
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/assets/asset-9/artifacts/glb", nil, &artifact)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "assets/asset-9/models/robot.glb", artifact.Key)

	t.Run("second complete", func(t *testing.T) {
		var errResp api.ErrorResponse
		resp := doJSON(t, http.MethodPost, srv.URL+api.CompleteChunkedUploadPath, api.CompleteChunkedUploadRequest{
			UploadID: initResp.UploadID,
			AssetID:  "asset-9",
			FileType: "glb",
		}, &errResp)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, api.CodeIncompleteUpload, errResp.Code)
	})

	t.Run("stale chunk url", func(t *testing.T) {
		resp := putChunk(t, initResp.ChunkURLs[0], chunks[0])
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestCompleteWithMissingChunks(t *testing.T) {
	srv := newTestServer(t)
	initResp := initUpload(t, srv, []string{"aaa", "bbb"})

	require.Equal(t, http.StatusOK, putChunk(t, initResp.ChunkURLs[0], "aaa").StatusCode)

	var errResp api.ErrorResponse
	resp := doJSON(t, http.MethodPost, srv.URL+api.CompleteChunkedUploadPath, api.CompleteChunkedUploadRequest{
		UploadID: initResp.UploadID,
		AssetID:  "asset-9",
		FileType: "glb",
	}, &errResp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, api.CodeIncompleteUpload, errResp.Code)
	assert.Contains(t, errResp.Error, "[1]")

	var status api.UploadStatusResponse
	doJSON(t, http.MethodGet, srv.URL+api.StatusURLPath(initResp.UploadID), nil, &status)
	assert.Equal(t, []int{1}, status.MissingChunks)
	require.Contains(t, status.ChunkURLs, 1)
	assert.Equal(t, http.StatusOK, putChunk(t, status.ChunkURLs[1], "bbb").StatusCode)
}

func TestPutChunkSignature(t *testing.T) {
	srv := newTestServer(t)
	initResp := initUpload(t, srv, []string{"aaa", "bbb"})

	t.Run("tampered index", func(t *testing.T) {
		// reuse the signature of chunk 0 for chunk 1
		u, err := url.Parse(initResp.ChunkURLs[0])
		require.NoError(t, err)
		u.Path = strings.TrimSuffix(u.Path, "/0") + "/1"

		resp := putChunk(t, u.String(), "bbb")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unsigned", func(t *testing.T) {
		resp := putChunk(t, srv.URL+api.ChunkURLPath(initResp.UploadID, 0), "aaa")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("too large", func(t *testing.T) {
		resp := putChunk(t, initResp.ChunkURLs[0], strings.Repeat("x", 2<<10))
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}

func TestInitValidation(t *testing.T) {
	srv := newTestServer(t)

	var errResp api.ErrorResponse
	resp := doJSON(t, http.MethodPost, srv.URL+api.InitChunkedUploadPath, api.InitChunkedUploadRequest{
		FileName:    "robot.glb",
		FileType:    "video",
		AssetID:     "asset-9",
		TotalChunks: 1,
		FileSize:    10,
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, api.CodeInvalidRequest, errResp.Code)

	resp = doJSON(t, http.MethodPost, srv.URL+api.InitChunkedUploadPath, map[string]string{"bogus": "x"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAbort(t *testing.T) {
	srv := newTestServer(t)
	initResp := initUpload(t, srv, []string{"aaa"})

	resp := doJSON(t, http.MethodPost, srv.URL+api.AbortChunkedUploadPath, api.AbortChunkedUploadRequest{
		UploadID: initResp.UploadID,
	}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var errResp api.ErrorResponse
	resp = doJSON(t, http.MethodGet, srv.URL+api.StatusURLPath(initResp.UploadID), nil, &errResp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, api.CodeNotFound, errResp.Code)
}

func TestDirectUpload(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("assetId", "asset-3"))
	require.NoError(t, mw.WriteField("fileType", "asset"))
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("some notes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+api.DirectUploadPath, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.CompleteChunkedUploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, srv.URL+"/cdn/assets/asset-3/assets/notes.txt", out.CDNURL)

	cdn, err := http.Get(out.CDNURL)
	require.NoError(t, err)
	defer cdn.Body.Close()
	body, err := io.ReadAll(cdn.Body)
	require.NoError(t, err)
	assert.Equal(t, "some notes", string(body))
}

func TestMissingObject(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/cdn/assets/nope/models/x.glb")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// temp parts stay private even though they live in the same store
	initResp := initUpload(t, srv, []string{"part"})
	require.Equal(t, http.StatusOK, putChunk(t, initResp.ChunkURLs[0], "part").StatusCode)

	resp, err = http.Get(srv.URL + "/cdn/uploads/" + initResp.UploadID + "/chunk-0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + api.MetricsPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
