// Package file stores each user's record as a JSON file under the data directory.
package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/profile"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

const (
	dirName    = "user_memories"
	fileSuffix = "_memory.json"
)

type DB struct {
	dir string
}

// NewDB returns a driver rooted at <data>/user_memories.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.Data == "" {
		return nil, errors.New("data directory required")
	}
	return &DB{dir: filepath.Join(profile.Data, dirName)}, nil
}

func (d *DB) Migrate(_ context.Context) error {
	if err := os.MkdirAll(d.dir, 0o770); err != nil {
		return errors.Wrapf(err, "failed to create %s", d.dir)
	}
	return nil
}

func (d *DB) path(userID string) string {
	return filepath.Join(d.dir, userID+fileSuffix)
}

func (d *DB) Location(userID string) string {
	return d.path(userID)
}

func (d *DB) Get(ctx context.Context, userID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", d.path(userID))
	}
	return data, nil
}

// Put writes through a temp file in the same directory and renames it over
// the target, so a crash leaves either the old or the new record.
func (d *DB) Put(ctx context.Context, userID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o770); err != nil {
		return errors.Wrapf(err, "failed to create %s", d.dir)
	}
	return WriteFileAtomic(d.path(userID), data)
}

func (d *DB) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(d.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return store.ErrNotFound
	}
	return errors.Wrapf(err, "failed to remove %s", d.path(userID))
}

func (d *DB) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", d.dir)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (*DB) Close() error {
	return nil
}

// WriteFileAtomic replaces path with data via temp file, fsync and rename.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "failed to write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "failed to sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}
