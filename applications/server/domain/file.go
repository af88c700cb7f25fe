package domain

import (
	"io"
	"time"
)

// ObjectInfo describes a blob held by the object store.
type ObjectInfo struct {
	Key           string
	ContentLength int64
	ContentType   string
	ETag          string
	ModTime       time.Time
}

type Object struct {
	Info ObjectInfo
	Body io.ReadCloser
}
