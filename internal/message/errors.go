package message

import "errors"

var (
	// ErrNotImplemented is returned by mutators that are deliberately unsupported.
	ErrNotImplemented = errors.New("message: not implemented")

	// ErrNoTransmitter is returned when a Response is built without a transmitter.
	ErrNoTransmitter = errors.New("message: transmitter is required")

	// ErrInvalidSnapshot is returned when the server snapshot cannot describe a request.
	ErrInvalidSnapshot = errors.New("message: invalid request snapshot")

	// ErrMalformedBody is returned when a JSON body cannot be decoded.
	ErrMalformedBody = errors.New("message: malformed body")

	// ErrBodyNotWritable is returned when writing to a body that only produces data.
	ErrBodyNotWritable = errors.New("message: body is not writable")
)
