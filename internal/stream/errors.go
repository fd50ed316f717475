package stream

import "errors"

// Transient failure kinds reported to the error sink.
// Use errors.Is() to check for these in calling code.
var (
	// ErrIdleTimeout is reported when the idle deadline elapses with no
	// traffic on an open stream.
	ErrIdleTimeout = errors.New("stream: idle deadline elapsed")

	// ErrRemoteClosed is reported when the remote end closes the stream.
	ErrRemoteClosed = errors.New("stream: remote closed connection")

	// ErrDecode is reported when an armed data line fails to decode.
	// The frame is dropped; the stream continues.
	ErrDecode = errors.New("stream: decoding event payload")
)
