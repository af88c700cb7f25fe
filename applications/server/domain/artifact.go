package domain

import (
	"mime"
	"path"
	"strings"
	"time"
)

type FileType string

const (
	FileTypeGLB       FileType = "glb"
	FileTypeReference FileType = "reference"
	FileTypeAsset     FileType = "asset"
)

const (
	maxGLBSize       = 100 << 20
	maxReferenceSize = 25 << 20
	maxAssetSize     = 50 << 20
)

func ParseFileType(s string) (FileType, error) {
	switch ft := FileType(strings.ToLower(strings.TrimSpace(s))); ft {
	case FileTypeGLB, FileTypeReference, FileTypeAsset:
		return ft, nil
	default:
		return "", ErrUnsupportedFileType
	}
}

// Folder is the destination folder under an asset for this file type.
func (t FileType) Folder() string {
	switch t {
	case FileTypeGLB:
		return "models"
	case FileTypeReference:
		return "references"
	default:
		return "assets"
	}
}

// MaxDirectUploadSize is the limit applied by the single-request upload path.
// Chunked uploads are not bound by it.
func (t FileType) MaxDirectUploadSize() int64 {
	switch t {
	case FileTypeGLB:
		return maxGLBSize
	case FileTypeReference:
		return maxReferenceSize
	default:
		return maxAssetSize
	}
}

func (t FileType) ContentType(fileName string) string {
	if t == FileTypeGLB {
		return "model/gltf-binary"
	}

	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(fileName))); ct != "" {
		return ct
	}

	return "application/octet-stream"
}

// DestinationKey is the permanent object key of an artifact.
// AssetsPrefix is the key prefix of every finalized artifact.
const AssetsPrefix = "assets/"

func DestinationKey(assetID string, fileType FileType, fileName string) string {
	return path.Join(AssetsPrefix, assetID, fileType.Folder(), path.Base(fileName))
}

// Artifact is the finalized, permanently addressable result of an upload.
type Artifact struct {
	AssetID     string    `json:"assetId"`
	FileType    FileType  `json:"fileType"`
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	UploadID    string    `json:"uploadId,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
}
