package inmemory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/chunkup/applications/server/domain"
	"github.com/donmikel/chunkup/applications/server/interfaces"
)

const DefaultCapacityInBytes = 1 << 30 // 1 GiB

type object struct {
	data        []byte
	contentType string
	etag        string
	modTime     time.Time
}

type inMemoryStorage struct {
	objects   map[string]object
	freeSpace int64
	log       log.Logger
	mutex     sync.RWMutex
}

func NewStorage(capacity int64, logger log.Logger) interfaces.Storage {
	if capacity <= 0 {
		capacity = DefaultCapacityInBytes
	}

	return &inMemoryStorage{
		log:       logger,
		objects:   map[string]object{},
		freeSpace: capacity,
	}
}

func (m *inMemoryStorage) Name() string {
	return "memory"
}

func (m *inMemoryStorage) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (domain.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return domain.ObjectInfo{}, err
	}

	if size >= 0 && int64(len(data)) != size {
		return domain.ObjectInfo{}, fmt.Errorf("short body for %s: got %d bytes, want %d", key, len(data), size)
	}

	sum := md5.Sum(data)
	obj := object{
		data:        data,
		contentType: contentType,
		etag:        hex.EncodeToString(sum[:]),
		modTime:     time.Now().UTC(),
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	dataLen := int64(len(data))
	reclaimed := int64(len(m.objects[key].data))
	if dataLen > m.freeSpace+reclaimed {
		return domain.ObjectInfo{}, fmt.Errorf("not enough free space")
	}

	m.objects[key] = obj
	m.freeSpace += reclaimed - dataLen

	level.Debug(m.log).Log("msg", "object stored",
		"key", key,
		"size", humanize.IBytes(uint64(dataLen)),
		"free_space", humanize.IBytes(uint64(m.freeSpace)),
	)

	return obj.info(key), nil
}

func (m *inMemoryStorage) GetObject(ctx context.Context, key string) (domain.Object, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return domain.Object{}, fmt.Errorf("%w: %s", domain.ErrObjectNotFound, key)
	}

	return domain.Object{
		Info: obj.info(key),
		Body: io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

func (m *inMemoryStorage) StatObject(ctx context.Context, key string) (domain.ObjectInfo, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return domain.ObjectInfo{}, fmt.Errorf("%w: %s", domain.ErrObjectNotFound, key)
	}

	return obj.info(key), nil
}

func (m *inMemoryStorage) DeleteObject(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	dataLen := int64(len(m.objects[key].data))
	delete(m.objects, key)
	m.freeSpace += dataLen

	return nil
}

func (o object) info(key string) domain.ObjectInfo {
	return domain.ObjectInfo{
		Key:           key,
		ContentLength: int64(len(o.data)),
		ContentType:   o.contentType,
		ETag:          o.etag,
		ModTime:       o.modTime,
	}
}
