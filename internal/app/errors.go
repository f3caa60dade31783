package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrBackpressure  = errors.New("detection queue is full")
	ErrNotStarted    = errors.New("service not started")
	ErrMissingDep    = errors.New("missing dependency")
	ErrInvalidUpload = errors.New("invalid upload")
	ErrStorage       = errors.New("image storage failed")
)
