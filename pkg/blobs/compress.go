package blobs

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var _ Store = &CompressedStore{}

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// CompressedStore zstd-compresses blobs on the way into another store.
// Blobs written before compression was turned on are returned as they are.
type CompressedStore struct {
	store   Store
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCompressedStore(store Store) (*CompressedStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %v", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %v", err)
	}
	return &CompressedStore{
		store:   store,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (s *CompressedStore) Put(ctx context.Context, path string, data []byte) error {
	return s.store.Put(ctx, path, s.encoder.EncodeAll(data, nil))
}

func (s *CompressedStore) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	decoded, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob %s: %v", path, err)
	}
	return decoded, nil
}

func (s *CompressedStore) Delete(ctx context.Context, path string) error {
	return s.store.Delete(ctx, path)
}
