package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"curator/internal/fileutil"
)

const fileFormatVersion = 1

type fileBackend struct {
	path string
}

func newFileBackend(path string) *fileBackend {
	return &fileBackend{path: path}
}

func (b *fileBackend) load() (Checkpoint, bool, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", b.path, err)
	}
	if cp.Version > fileFormatVersion {
		return Checkpoint{}, false, fmt.Errorf("checkpoint %s has version %d, newer than supported %d", b.path, cp.Version, fileFormatVersion)
	}
	return cp, true, nil
}

func (b *fileBackend) save(f flush) error {
	data, err := json.MarshalIndent(f.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return fileutil.WriteFileAtomic(b.path, append(data, '\n'), 0o644)
}

func (b *fileBackend) close() error { return nil }
