package storage

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

// FileBackend implements a Backend storing one file per device in the
// configured directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a new FileBackend.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (f *FileBackend) path(devEUI lorawan.EUI64) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s.session", devEUI))
}

// SaveDeviceSession implements Backend. The file is replaced atomically.
func (f *FileBackend) SaveDeviceSession(ctx context.Context, b []byte, devEUI lorawan.EUI64) error {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return errors.Wrap(err, "create directory error")
	}

	tmp, err := ioutil.TempFile(f.dir, ".session")
	if err != nil {
		return errors.Wrap(err, "create temp file error")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write error")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close error")
	}

	if err := os.Rename(tmp.Name(), f.path(devEUI)); err != nil {
		return errors.Wrap(err, "rename error")
	}
	return nil
}

// GetDeviceSession implements Backend.
func (f *FileBackend) GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) ([]byte, error) {
	b, err := ioutil.ReadFile(f.path(devEUI))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDoesNotExist
		}
		return nil, errors.Wrap(err, "read error")
	}
	return b, nil
}

// DeleteDeviceSession implements Backend.
func (f *FileBackend) DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error {
	if err := os.Remove(f.path(devEUI)); err != nil {
		if os.IsNotExist(err) {
			return ErrDoesNotExist
		}
		return errors.Wrap(err, "remove error")
	}
	return nil
}
