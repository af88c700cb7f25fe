// Package api holds the JSON wire types and routes shared by the upload
// coordinator and its clients.
package api

import (
	"fmt"
	"time"
)

const (
	InitChunkedUploadPath     = "/api/assets/init-chunked-upload"
	CompleteChunkedUploadPath = "/api/assets/complete-chunked-upload"
	AbortChunkedUploadPath    = "/api/assets/abort-chunked-upload"
	ChunkedUploadStatusPath   = "/api/assets/chunked-upload/{uploadId}"
	DirectUploadPath          = "/api/assets/upload"
	ArtifactPath              = "/api/assets/{assetId}/artifacts/{fileType}"
	ChunkPath                 = "/api/uploads/{uploadId}/chunks/{index}"
	CDNPathPrefix             = "/cdn/"
	MetricsPath               = "/metrics"
)

// ChunkURLPath is ChunkPath with its variables filled in.
func ChunkURLPath(uploadID string, index int) string {
	return fmt.Sprintf("/api/uploads/%s/chunks/%d", uploadID, index)
}

func StatusURLPath(uploadID string) string {
	return "/api/assets/chunked-upload/" + uploadID
}

type InitChunkedUploadRequest struct {
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	AssetID     string `json:"assetId"`
	TotalChunks int    `json:"totalChunks"`
	FileSize    int64  `json:"fileSize"`
}

type InitChunkedUploadResponse struct {
	UploadID  string    `json:"uploadId"`
	ChunkURLs []string  `json:"chunkUrls"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ChunkResponse struct {
	Index int    `json:"index"`
	Size  int64  `json:"size"`
	ETag  string `json:"etag"`
}

type CompleteChunkedUploadRequest struct {
	UploadID string `json:"uploadId"`
	AssetID  string `json:"assetId"`
	FileType string `json:"fileType"`
}

type CompleteChunkedUploadResponse struct {
	CDNURL  string `json:"cdnUrl"`
	Version int64  `json:"version"`
}

type AbortChunkedUploadRequest struct {
	UploadID string `json:"uploadId"`
}

type UploadStatusResponse struct {
	UploadID       string         `json:"uploadId"`
	AssetID        string         `json:"assetId"`
	FileType       string         `json:"fileType"`
	Status         string         `json:"status"`
	TotalChunks    int            `json:"totalChunks"`
	FileSize       int64          `json:"fileSize"`
	ReceivedChunks []int          `json:"receivedChunks"`
	MissingChunks  []int          `json:"missingChunks"`
	ChunkURLs      map[int]string `json:"chunkUrls,omitempty"`
	CDNURL         string         `json:"cdnUrl,omitempty"`
	Version        int64          `json:"version,omitempty"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeInvalidSignature = "invalid_signature"
	CodeNotFound         = "not_found"
	CodeTooLarge         = "too_large"
	CodeConflict         = "conflict"
	CodeVersionConflict  = "version_conflict"
	CodeIncompleteUpload = "incomplete_upload"
	CodeFinalizeFailed   = "finalize_failed"
	CodeInternal         = "internal"
)
