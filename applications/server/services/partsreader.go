package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/donmikel/chunkup/applications/server/domain"
	"github.com/donmikel/chunkup/applications/server/interfaces"
)

// partsReader streams the chunk parts of a session in index order as one
// body, opening each part only when the previous one is drained.
type partsReader struct {
	currentPart     int
	storage         interfaces.Storage
	currentPartBody io.ReadCloser
	parts           []domain.ChunkSlot
	ctx             context.Context
}

func newPartsReader(ctx context.Context, storage interfaces.Storage, parts []domain.ChunkSlot) *partsReader {
	return &partsReader{
		storage: storage,
		parts:   parts,
		ctx:     ctx,
	}
}

func (f *partsReader) openNextPart() error {
	if f.currentPart >= len(f.parts) {
		return io.EOF
	}

	part := f.parts[f.currentPart]
	obj, err := f.storage.GetObject(f.ctx, part.Key)
	if err != nil {
		f.currentPartBody = nil
		return fmt.Errorf("can't read chunk %d: %w", part.Index, err)
	}

	f.currentPartBody = obj.Body
	f.currentPart++

	return nil
}

func (f *partsReader) Read(p []byte) (n int, err error) {
	for {
		if f.currentPartBody == nil {
			if err = f.openNextPart(); err != nil {
				return 0, err
			}
		}

		n, err = f.currentPartBody.Read(p)
		if err != nil && !errors.Is(err, io.EOF) {
			return n, err
		}

		if errors.Is(err, io.EOF) {
			if cerr := f.currentPartBody.Close(); cerr != nil {
				return n, fmt.Errorf("can't close chunk body: %w", cerr)
			}
			f.currentPartBody = nil
		}

		if n > 0 {
			return n, nil
		}
	}
}

func (f *partsReader) Close() error {
	if f.currentPartBody != nil {
		return f.currentPartBody.Close()
	}

	return nil
}
