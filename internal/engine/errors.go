package engine

import (
	"errors"

	"github.com/t77yq/tracklet/internal/storage"
)

var (
	// ErrValidation is returned when a request carries nothing to do,
	// such as an update with no field changes and no predecessor list
	ErrValidation = errors.New("nothing to update")

	// ErrNotFound is returned when a referenced entity does not exist
	ErrNotFound = storage.ErrNotFound

	// ErrBusyTimeout is returned when the store's write lock was not
	// acquired within the configured bound. Safe to retry.
	ErrBusyTimeout = storage.ErrBusyTimeout

	// ErrStoreUnavailable is returned when the store is unusable; the
	// process should stop accepting writes
	ErrStoreUnavailable = storage.ErrUnavailable
)
