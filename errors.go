package livewatch

import "errors"

// ErrNoEndpoints is returned when the configuration names no feed endpoints.
var ErrNoEndpoints = errors.New("livewatch: no endpoints configured")

// ErrInvalidConfig is returned when the configuration fails validation.
var ErrInvalidConfig = errors.New("livewatch: invalid configuration")

// ErrUnknownCategory is returned when an operation names a category the
// pool does not track.
var ErrUnknownCategory = errors.New("livewatch: unknown category")
