package snapshot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/vmti/internal/storage"
	"github.com/vmti/pkg/writer"
)

// Export encodes snap and uploads it under key.
func Export(ctx context.Context, st storage.Storage, key string, enc writer.Encoder[*Snapshot], snap *Snapshot) (*writer.WriteResult, error) {
	data, res, err := writer.Encode(enc, snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %q: %w", snap.Name, err)
	}
	if err := st.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("upload snapshot %q: %w", snap.Name, err)
	}
	return res, nil
}

// Load downloads and decodes the snapshot stored under key, compressed or not.
func Load(ctx context.Context, st storage.Storage, key string) (*Snapshot, error) {
	rc, err := st.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	snap, err := writer.ReadJSON[*Snapshot](rc)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snap, nil
}
