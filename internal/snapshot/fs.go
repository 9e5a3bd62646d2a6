package snapshot

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const fileExt = ".json"

// FSBackend stores one JSON file per key under a base directory.
type FSBackend struct{ base string }

func NewFSBackend(base string) (*FSBackend, error) {
	if base == "" {
		base = "./data/snapshots"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot dir")
	}
	return &FSBackend{base: base}, nil
}

func (s *FSBackend) path(key string) string {
	return filepath.Join(s.base, url.PathEscape(key)+fileExt)
}

// Put writes through a temp file so a crash never leaves a torn snapshot.
func (s *FSBackend) Put(_ context.Context, key string, data []byte) error {
	if key == "" {
		return errors.New("empty key")
	}
	f, err := os.CreateTemp(s.base, ".snap-*")
	if err != nil {
		return errors.Wrap(err, "create temp")
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "write snapshot")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close snapshot")
	}
	return errors.Wrap(os.Rename(tmp, s.path(key)), "rename snapshot")
}

func (s *FSBackend) Get(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, errors.Wrap(err, "read snapshot")
}

func (s *FSBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "remove snapshot")
}

func (s *FSBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return nil, errors.Wrap(err, "list snapshots")
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil || !hasPrefix(key, prefix) {
			continue
		}
		out = append(out, key)
	}
	return out, nil
}
