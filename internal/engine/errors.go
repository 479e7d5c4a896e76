package engine

import "errors"

// Probe error taxonomy. StatusNotFound is the common case while searching
// backwards and is absorbed silently by the discovery loop; PtsTooEarly
// adjusts the search; everything else is logged and treated as a miss.
var (
	ErrStatusNotFound = errors.New("segment not found")
	ErrPtsTooEarly    = errors.New("segment PTS precedes accepted watermark")
	ErrInvalidURL     = errors.New("segment URL has no usable path segment")
)
