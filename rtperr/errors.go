// Package rtperr collects the sentinel errors returned across the header,
// leb128, and payload codecs. Centralizing them here lets callers use
// errors.Is against one stable set of kinds regardless of which codec
// produced the failure.
package rtperr

import "errors"

// Transport header errors.
var (
	// ErrShortBuffer indicates the input ended mid-field.
	ErrShortBuffer = errors.New("rtperr: short buffer")

	// ErrCorrupted indicates a forbidden bit is set or a reserved
	// invariant is violated.
	ErrCorrupted = errors.New("rtperr: corrupted packet")

	// ErrMalformedExtension indicates a transport extension invariant was
	// violated while parsing.
	ErrMalformedExtension = errors.New("rtperr: malformed extension")

	// ErrInvalidExtension indicates a transport extension invariant was
	// violated while serializing.
	ErrInvalidExtension = errors.New("rtperr: invalid extension")
)

// Payload codec errors.
var (
	// ErrUnhandledNaluType indicates the receiver saw a NAL unit type it
	// does not implement.
	ErrUnhandledNaluType = errors.New("rtperr: unhandled NAL unit type")

	// ErrFrameTooLarge indicates packetization cannot produce any valid
	// output within the configured MTU.
	ErrFrameTooLarge = errors.New("rtperr: frame too large for MTU")

	// ErrTooManySpatialLayers indicates a VP9 payload descriptor's layer
	// indices named a spatial layer id (SID) beyond the supported count.
	ErrTooManySpatialLayers = errors.New("rtperr: too many spatial layers")

	// ErrTooManyReferences indicates a VP9 flexible-mode reference index
	// chain exceeded the supported length.
	ErrTooManyReferences = errors.New("rtperr: too many reference diffs")
)
