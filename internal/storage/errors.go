package storage

import (
	"github.com/pkg/errors"
)

// errors
var (
	ErrDoesNotExist = errors.New("object does not exist")
	ErrInvalidKEK   = errors.New("invalid kek")
	ErrUnknownType  = errors.New("unknown storage type")
	ErrNoKEK        = errors.New("session keys are wrapped but no kek is configured")
)
