package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// File держит все ключи в одном JSON-файле и переписывает его целиком
// через временный файл + rename.
type File struct {
	path string

	mu   sync.Mutex
	data map[string][]byte
}

func NewFile(path string) (*File, error) {
	f := &File{path: path, data: make(map[string][]byte)}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(raw) > 0 {
			var stored map[string]string
			if err := sonic.Unmarshal(raw, &stored); err != nil {
				return nil, errors.Wrapf(err, "file store: decode %s", path)
			}
			for k, v := range stored {
				f.data[k] = []byte(v)
			}
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrapf(err, "file store: read %s", path)
	}
	return f, nil
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (f *File) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.data[key]
	f.data[key] = append([]byte(nil), value...)
	if err := f.flush(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *File) flush() error {
	stored := make(map[string]string, len(f.data))
	for k, v := range f.data {
		stored[k] = string(v)
	}
	raw, err := sonic.Marshal(stored)
	if err != nil {
		return errors.Wrap(err, "file store: encode")
	}

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "file store: mkdir")
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrap(err, "file store: write")
	}
	return errors.Wrap(os.Rename(tmp, f.path), "file store: rename")
}
