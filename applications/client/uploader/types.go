// Package uploader uploads large files to the chunked upload coordinator:
// it splits a file into fixed-size chunks, PUTs them in parallel with
// retries, and asks the coordinator to assemble the result.
package uploader

import (
	"fmt"
)

type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Progress is reported after every chunk and on every phase change.
// Percent never decreases within one upload.
type Progress struct {
	CurrentChunk int
	TotalChunks  int
	Status       Status
	Percent      float64
	Message      string
}

type ProgressFunc func(Progress)

// ChunkRange is a contiguous byte range of the source file.
type ChunkRange struct {
	Index  int
	Offset int64
	Size   int64
}

// ChunkRanges splits size bytes into ceil(size/chunkSize) contiguous,
// non-overlapping ranges. Only the last range may be shorter than chunkSize.
func ChunkRanges(size, chunkSize int64) []ChunkRange {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}

	n := (size + chunkSize - 1) / chunkSize
	ranges := make([]ChunkRange, 0, n)
	for i := int64(0); i < n; i++ {
		offset := i * chunkSize
		ranges = append(ranges, ChunkRange{
			Index:  int(i),
			Offset: offset,
			Size:   min(chunkSize, size-offset),
		})
	}

	return ranges
}

// Result describes a finalized upload.
type Result struct {
	UploadID string
	URL      string
	Version  int64
}

// ChunkError is returned when a chunk could not be uploaded after all
// retries. The session is left open so the upload can be resumed.
type ChunkError struct {
	UploadID string
	Index    int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("upload %s: chunk %d failed: %v", e.UploadID, e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx answer from the coordinator.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("coordinator returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("coordinator returned %d: %s", e.StatusCode, e.Message)
}
