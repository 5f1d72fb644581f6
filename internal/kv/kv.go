// Package kv is the host key-value persistence used for small records such
// as the OAuth token. Each key holds one opaque value written atomically.
package kv

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/adrg/xdg"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: key not found")

// Store persists opaque values under string keys.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// DefaultDir returns the XDG data directory for the application.
func DefaultDir() string {
	return filepath.Join(xdg.DataHome, "calnote")
}

// Open returns the store for the named backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	switch backend {
	case "", BackendFile:
		return NewFileStore(dir)
	case BackendBadger:
		return NewBadgerStore(filepath.Join(dir, "kv"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
