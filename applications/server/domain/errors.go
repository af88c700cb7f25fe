package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrSessionNotFound     = errors.New("upload session not found")
	ErrChunkOutOfRange     = errors.New("chunk index out of range")
	ErrChunkTooLarge       = errors.New("chunk too large")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUploadNotActive     = errors.New("upload session is not accepting changes")
	ErrUploadInProgress    = errors.New("upload is already being completed")
	ErrIncompleteUpload    = errors.New("incomplete upload")
	ErrFinalizeFailed      = errors.New("finalize failed")
	ErrVersionConflict     = errors.New("artifact version conflict")
	ErrArtifactBusy        = errors.New("artifact is being written by another upload")
	ErrObjectNotFound      = errors.New("object not found")
	ErrArtifactNotFound    = errors.New("artifact not found")
)

// MissingChunksError reports the chunk indices absent at finalize time.
type MissingChunksError struct {
	UploadID string
	Indices  []int
}

func (e *MissingChunksError) Error() string {
	idx := make([]string, 0, len(e.Indices))
	for _, i := range e.Indices {
		idx = append(idx, strconv.Itoa(i))
	}

	return fmt.Sprintf("%s: upload %s is missing chunks [%s]", ErrIncompleteUpload, e.UploadID, strings.Join(idx, ", "))
}

func (e *MissingChunksError) Is(target error) bool {
	return target == ErrIncompleteUpload
}
