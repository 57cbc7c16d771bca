// Package aes provides the interchangeable AES-128 block encryption
// backends used by the frame security. Only the encrypt direction is
// needed, LoRaWAN devices use it for CMAC, the CTR payload cipher and for
// decoding the join-accept.
package aes

import (
	"sort"

	"github.com/pkg/errors"
)

// BlockSize and KeySize in bytes.
const (
	BlockSize = 16
	KeySize   = 16
)

// ErrUnknownBackend is returned when the requested backend does not exist.
var ErrUnknownBackend = errors.New("unknown aes backend")

// Backend defines the AES-128 block encryption primitive.
type Backend interface {
	// Name returns the name of the backend.
	Name() string

	// EncryptBlock encrypts a single block with the given key.
	EncryptBlock(key [KeySize]byte, block [BlockSize]byte) [BlockSize]byte
}

var backends = map[string]Backend{
	"hardware": Hardware{},
	"table":    Table{},
	"compact":  Compact{},
}

// Get returns the backend for the given name. An empty name returns the
// hardware backend.
func Get(name string) (Backend, error) {
	if name == "" {
		name = "hardware"
	}
	b, ok := backends[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownBackend, "backend %s", name)
	}
	return b, nil
}

// Names returns the sorted names of the available backends.
func Names() []string {
	var out []string
	for k := range backends {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
