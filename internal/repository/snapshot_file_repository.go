package repository

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// SnapshotFileRepository keeps the CRM document in a single JSON file.
// Writes go to a temp file in the same directory and are renamed into place,
// so a crash never leaves a half-written document. Update is serialized per
// repository value; cross-process exclusion needs LockedStore.
type SnapshotFileRepository struct {
	path    string
	mu      sync.Mutex
	version int64
}

// NewSnapshotFileRepository creates a repository backed by path. The file is
// created on first save.
func NewSnapshotFileRepository(path string) *SnapshotFileRepository {
	return &SnapshotFileRepository{path: path}
}

// Load reads the document. A missing file yields an empty document.
func (r *SnapshotFileRepository) Load(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Save overwrites the document if nothing else saved since snap was loaded.
func (r *SnapshotFileRepository) Save(ctx context.Context, snap *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Version != r.version {
		return conflictError(snap.Version)
	}
	if err := r.write(snap); err != nil {
		return err
	}
	snap.Version = r.version
	return nil
}

// Update loads, applies fn and writes back while holding the repository lock.
func (r *SnapshotFileRepository) Update(ctx context.Context, fn func(snap *Snapshot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snap, err := r.load()
	if err != nil {
		return err
	}
	if err := fn(snap); err != nil {
		return err
	}
	return r.write(snap)
}

func (r *SnapshotFileRepository) load() (*Snapshot, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		snap := NewSnapshot()
		snap.Version = r.version
		return snap, nil
	}
	if err != nil {
		return nil, storageError("failed to read data file", err)
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, storageError("failed to decode data file", err)
	}
	snap.Version = r.version
	return snap, nil
}

func (r *SnapshotFileRepository) write(snap *Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return storageError("failed to encode snapshot", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return storageError("failed to create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return storageError("failed to write data file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return storageError("failed to sync data file", err)
	}
	if err := tmp.Close(); err != nil {
		return storageError("failed to close data file", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return storageError("failed to replace data file", err)
	}
	r.version++
	return nil
}
