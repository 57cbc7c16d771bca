package storage

import (
	"context"

	"github.com/brocaar/lorawan"
)

// NoneBackend implements a Backend which does not persist anything.
type NoneBackend struct{}

// SaveDeviceSession implements Backend.
func (NoneBackend) SaveDeviceSession(ctx context.Context, b []byte, devEUI lorawan.EUI64) error {
	return nil
}

// GetDeviceSession implements Backend.
func (NoneBackend) GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) ([]byte, error) {
	return nil, ErrDoesNotExist
}

// DeleteDeviceSession implements Backend.
func (NoneBackend) DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error {
	return nil
}
