package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileType(t *testing.T) {
	for in, want := range map[string]FileType{
		"glb":       FileTypeGLB,
		" GLB ":     FileTypeGLB,
		"reference": FileTypeReference,
		"asset":     FileTypeAsset,
	} {
		got, err := ParseFileType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseFileType("video")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestDestinationKey(t *testing.T) {
	assert.Equal(t, "assets/a1/models/robot.glb", DestinationKey("a1", FileTypeGLB, "robot.glb"))
	assert.Equal(t, "assets/a1/references/front.png", DestinationKey("a1", FileTypeReference, "nested/dir/front.png"))
	assert.Equal(t, "assets/a1/assets/tex.zip", DestinationKey("a1", FileTypeAsset, "tex.zip"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "model/gltf-binary", FileTypeGLB.ContentType("robot.bin"))
	assert.Equal(t, "image/png", FileTypeReference.ContentType("front.PNG"))
	assert.Equal(t, "application/octet-stream", FileTypeAsset.ContentType("data.unknownext"))
}

func TestMaxDirectUploadSize(t *testing.T) {
	assert.Equal(t, int64(100<<20), FileTypeGLB.MaxDirectUploadSize())
	assert.Equal(t, int64(25<<20), FileTypeReference.MaxDirectUploadSize())
	assert.Equal(t, int64(50<<20), FileTypeAsset.MaxDirectUploadSize())
}

func TestUploadSession(t *testing.T) {
	s := UploadSession{
		ID:       "u1",
		AssetID:  "a1",
		FileName: "robot.glb",
		FileType: FileTypeGLB,
		Chunks:   NewChunkSlots("u1", 4),
	}

	assert.Equal(t, "uploads/u1/chunk-2", s.Chunks[2].Key)
	assert.Equal(t, []int{0, 1, 2, 3}, s.MissingChunks())
	assert.Empty(t, s.ReceivedChunks())

	s.Chunks[1].Received = true
	s.Chunks[3].Received = true
	assert.Equal(t, []int{0, 2}, s.MissingChunks())
	assert.Equal(t, []int{1, 3}, s.ReceivedChunks())
	assert.Equal(t, "assets/a1/models/robot.glb", s.DestinationKey())

	now := time.Now()
	assert.False(t, s.Expired(now))
	s.ExpiresAt = now
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(time.Nanosecond)))
}

func TestMissingChunksError(t *testing.T) {
	var err error = &MissingChunksError{UploadID: "u1", Indices: []int{1, 3}}
	wrapped := fmt.Errorf("complete: %w", err)

	assert.ErrorIs(t, wrapped, ErrIncompleteUpload)
	assert.Contains(t, err.Error(), "[1, 3]")

	var missing *MissingChunksError
	require.True(t, errors.As(wrapped, &missing))
	assert.Equal(t, []int{1, 3}, missing.Indices)
}
