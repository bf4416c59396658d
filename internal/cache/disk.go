// Package cache stores fetched payloads as flat files with atomic writes, so
// an interrupted run resumes without refetching completed units.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrMiss signals that a key has no readable entry. Corrupt entries degrade
// to a miss as well: the caller refetches instead of failing.
var ErrMiss = errors.New("cache miss")

// Disk is a directory of cache entries keyed by deterministic filenames, one
// file per logical unit of work.
type Disk struct {
	dir string
}

func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Disk{dir: dir}, nil
}

func (d *Disk) Dir() string { return d.dir }

func (d *Disk) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, key))
	if err != nil {
		return nil, ErrMiss
	}
	if len(data) == 0 {
		return nil, ErrMiss
	}
	return data, nil
}

// Put writes the entry through a temp file in the same directory, syncing
// before an atomic rename. A crash mid-write never clobbers a valid entry.
func (d *Disk) Put(key string, data []byte) error {
	tmp, err := os.CreateTemp(d.dir, key+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp entry for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write entry %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync entry %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close entry %s: %w", key, err)
	}
	if err := os.Rename(tmpName, filepath.Join(d.dir, key)); err != nil {
		return fmt.Errorf("commit entry %s: %w", key, err)
	}
	return nil
}
