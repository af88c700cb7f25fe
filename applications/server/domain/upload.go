package domain

import (
	"fmt"
	"io"
	"time"
)

type SessionStatus string

const (
	StatusInitialized SessionStatus = "initialized"
	StatusCompleting  SessionStatus = "completing"
	StatusFinalized   SessionStatus = "finalized"
	StatusFailed      SessionStatus = "failed"
)

// ChunkSlot is one expected part of an upload session.
type ChunkSlot struct {
	Index      int       `json:"index"`
	Key        string    `json:"key"`
	Received   bool      `json:"received"`
	Size       int64     `json:"size,omitempty"`
	ETag       string    `json:"etag,omitempty"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}

type UploadSession struct {
	ID          string        `json:"id"`
	AssetID     string        `json:"assetId"`
	FileName    string        `json:"fileName"`
	FileType    FileType      `json:"fileType"`
	TotalChunks int           `json:"totalChunks"`
	FileSize    int64         `json:"fileSize"`
	Status      SessionStatus `json:"status"`
	BaseVersion int64         `json:"baseVersion"`
	Chunks      []ChunkSlot   `json:"chunks"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	FinalizedAt time.Time     `json:"finalizedAt,omitempty"`

	ArtifactURL     string `json:"artifactUrl,omitempty"`
	ArtifactVersion int64  `json:"artifactVersion,omitempty"`
}

// ChunkKey is the temp object key of chunk index within an upload.
func ChunkKey(uploadID string, index int) string {
	return fmt.Sprintf("uploads/%s/chunk-%d", uploadID, index)
}

// NewChunkSlots allocates contiguous slots 0..total-1.
func NewChunkSlots(uploadID string, total int) []ChunkSlot {
	slots := make([]ChunkSlot, total)
	for i := range slots {
		slots[i] = ChunkSlot{Index: i, Key: ChunkKey(uploadID, i)}
	}

	return slots
}

func (s UploadSession) ReceivedChunks() []int {
	result := make([]int, 0, len(s.Chunks))
	for _, c := range s.Chunks {
		if c.Received {
			result = append(result, c.Index)
		}
	}

	return result
}

func (s UploadSession) MissingChunks() []int {
	result := make([]int, 0)
	for _, c := range s.Chunks {
		if !c.Received {
			result = append(result, c.Index)
		}
	}

	return result
}

func (s UploadSession) DestinationKey() string {
	return DestinationKey(s.AssetID, s.FileType, s.FileName)
}

func (s UploadSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

type InitRequest struct {
	FileName    string
	FileType    FileType
	AssetID     string
	TotalChunks int
	FileSize    int64
}

type CompleteRequest struct {
	UploadID string
	AssetID  string
	FileType FileType
}

type DirectUploadRequest struct {
	AssetID  string
	FileType FileType
	FileName string
	Size     int64
	Body     io.Reader
}

// UploadStatus is a session together with fresh upload URLs for the chunks
// it is still missing.
type UploadStatus struct {
	Session   UploadSession
	ChunkURLs map[int]string
}
