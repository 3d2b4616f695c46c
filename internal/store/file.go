package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"postflow/internal/domain"
)

// FileStore keeps the queue as an indented JSON array in a single file.
type FileStore struct {
	fs   afero.Fs
	path string
}

func NewFileStore(path string) *FileStore {
	return NewFileStoreFs(afero.NewOsFs(), path)
}

func NewFileStoreFs(fsys afero.Fs, path string) *FileStore {
	return &FileStore{fs: fsys, path: path}
}

func (s *FileStore) Path() string { return s.path }

// Load returns the stored posts. A missing file is an empty queue.
func (s *FileStore) Load() ([]domain.Post, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	if len(data) == 0 {
		return nil, nil
	}
	var posts []domain.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: fmt.Errorf("decode: %w", err)}
	}
	return posts, nil
}

// Save writes the snapshot to a temporary file next to the target, syncs
// it and renames it into place so readers never observe a partial write.
func (s *FileStore) Save(posts []domain.Post) error {
	if posts == nil {
		posts = []domain.Post{}
	}
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("encode: %w", err)}
	}
	data = append(data, '\n')

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return &PersistenceError{Op: "save", Path: s.path, Err: err}
		}
	}

	tmp := s.path + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = s.fs.Remove(tmp)
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = s.fs.Remove(tmp)
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
