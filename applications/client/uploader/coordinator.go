package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/donmikel/chunkup/applications/api"
)

// apiRetryPolicy retries transport failures and gateway errors. A 500 from
// the coordinator itself is a verdict on the upload and is not retried.
func apiRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusInternalServerError {
		return false, nil
	}

	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// initUpload is sent once: a retry after a lost response would open a second session.
func (u *Uploader) initUpload(ctx context.Context, req api.InitChunkedUploadRequest) (api.InitChunkedUploadResponse, error) {
	var resp api.InitChunkedUploadResponse
	err := u.call(ctx, u.onceClient, http.MethodPost, api.InitChunkedUploadPath, req, &resp)

	return resp, err
}

func (u *Uploader) completeUpload(ctx context.Context, req api.CompleteChunkedUploadRequest) (api.CompleteChunkedUploadResponse, error) {
	var resp api.CompleteChunkedUploadResponse
	err := u.call(ctx, u.apiClient, http.MethodPost, api.CompleteChunkedUploadPath, req, &resp)

	return resp, err
}

func (u *Uploader) uploadStatus(ctx context.Context, uploadID string) (api.UploadStatusResponse, error) {
	var resp api.UploadStatusResponse
	err := u.call(ctx, u.apiClient, http.MethodGet, api.StatusURLPath(uploadID), nil, &resp)

	return resp, err
}

func (u *Uploader) abortUpload(ctx context.Context, uploadID string) error {
	return u.call(ctx, u.apiClient, http.MethodPost, api.AbortChunkedUploadPath, api.AbortChunkedUploadRequest{UploadID: uploadID}, nil)
}

func (u *Uploader) call(ctx context.Context, client *retryablehttp.Client, method, path string, in, out interface{}) error {
	var body interface{}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			level.Warn(u.logger).Log("msg", "can't close response body", "err", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	if out == nil {
		return nil
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("can't decode %s response: %w", path, err)
	}

	return nil
}

func (u *Uploader) putChunk(ctx context.Context, rawURL string, file io.ReaderAt, r ChunkRange) error {
	body := io.NewSectionReader(file, r.Offset, r.Size)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, rawURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = r.Size

	resp, err := u.chunkClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

func unwrapError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	apiErr := &APIError{StatusCode: resp.StatusCode}

	var errResp api.ErrorResponse
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		apiErr.Code = errResp.Code
		apiErr.Message = errResp.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	return apiErr
}
