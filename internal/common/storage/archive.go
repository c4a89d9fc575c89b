package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const archiveContentType = "application/zstd"

// SourceArchive stores zstd-compressed submission sources in object storage.
type SourceArchive struct {
	store  ObjectStorage
	bucket string
}

func NewSourceArchive(store ObjectStorage, bucket string) *SourceArchive {
	return &SourceArchive{store: store, bucket: bucket}
}

// ObjectKey returns the archive key of one job's source.
func ObjectKey(matchID, jobID string) string {
	return fmt.Sprintf("submissions/%s/%s.zst", matchID, jobID)
}

// Save compresses source and uploads it, returning the object key.
func (a *SourceArchive) Save(ctx context.Context, matchID, jobID, source string) (string, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("create zstd writer failed: %w", err)
	}
	if _, err := enc.Write([]byte(source)); err != nil {
		_ = enc.Close()
		return "", fmt.Errorf("compress source failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("flush zstd writer failed: %w", err)
	}

	key := ObjectKey(matchID, jobID)
	if err := a.store.PutObject(ctx, a.bucket, key, &buf, int64(buf.Len()), archiveContentType); err != nil {
		return "", err
	}
	return key, nil
}

// Load downloads and decompresses an archived source.
func (a *SourceArchive) Load(ctx context.Context, matchID, jobID string) (string, error) {
	rc, err := a.store.GetObject(ctx, a.bucket, ObjectKey(matchID, jobID))
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec, err := zstd.NewReader(rc)
	if err != nil {
		return "", fmt.Errorf("create zstd reader failed: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return "", fmt.Errorf("decompress source failed: %w", err)
	}
	return string(data), nil
}
