package gateway

import "errors"

var (
	// ErrNoDeviceAvailable is returned when no device is connected.
	ErrNoDeviceAvailable = errors.New("no device available")

	// ErrDispatchTimeout is returned when the device did not ack in time.
	ErrDispatchTimeout = errors.New("timeout")

	// ErrDeviceQueueFull is returned when the chosen device's outbound queue is saturated.
	ErrDeviceQueueFull = errors.New("device queue full")

	// ErrDeviceFailed is returned when the device acked with status failed.
	ErrDeviceFailed = errors.New("device reported failure")

	// ErrInvalidRequest is returned for a request with no phone or an oversized text.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDuplicateCorrelation is returned when a correlation id is already pending.
	ErrDuplicateCorrelation = errors.New("duplicate correlation id")

	// ErrGatewayClosed is returned for requests pending or issued after Close.
	ErrGatewayClosed = errors.New("gateway closed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
