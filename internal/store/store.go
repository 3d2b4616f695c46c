package store

import (
	"fmt"

	"postflow/internal/domain"
)

// Store persists the full post queue as one snapshot. Save replaces the
// previous snapshot wholesale.
type Store interface {
	Load() ([]domain.Post, error)
	Save(posts []domain.Post) error
	Close() error
}

// PersistenceError reports a failed snapshot load or save.
type PersistenceError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s snapshot %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
