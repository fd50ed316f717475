package persist

import "errors"

var (
	// ErrQueueClosed is returned by Enqueue after Stop has begun.
	ErrQueueClosed = errors.New("persist: queue closed")
)
