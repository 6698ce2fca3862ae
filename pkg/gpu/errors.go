package gpu

import "errors"

var (
	// ErrNoBackend is returned when no backend is registered for a kind.
	ErrNoBackend = errors.New("gpu: no backend registered")

	// ErrBackendUnavailable is returned when a backend is registered but not
	// usable on this system (no device, driver missing, not built in).
	ErrBackendUnavailable = errors.New("gpu: backend unavailable")

	// ErrDeviceFailure wraps device errors raised mid-run. The search
	// continues on the CPU pool; this is never fatal to the process.
	ErrDeviceFailure = errors.New("gpu: device failure")

	// ErrUnknownKind is returned when parsing an unrecognised backend name.
	ErrUnknownKind = errors.New("gpu: unknown backend kind")

	// ErrInvalidLaneCount is returned for non-positive lane counts.
	ErrInvalidLaneCount = errors.New("gpu: lane count must be positive")
)
