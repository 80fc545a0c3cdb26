package gateway

import (
	"sync"
	"time"

	v1 "github.com/tkmdevelopers/auto.tm-main-sub000/shared/contracts/device/v1"
)

// Device is one registered sending device.
//
// Send is never closed by the gateway; done signals the connection
// goroutines to stop. Fields below the mutex line are guarded by Gateway.mu.
type Device struct {
	Key         string
	Region      string
	ConnectedAt time.Time
	Send        chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	// closeConn terminates the underlying connection; nil for in-process devices.
	closeConn func(reason string)

	// Guarded by Gateway.mu.
	inflight     int
	lastActivity time.Time
	status       v1.StatusPayload
}

func newDevice(key, region string, queueSize int, now time.Time) *Device {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &Device{
		Key:          key,
		Region:       region,
		ConnectedAt:  now,
		Send:         make(chan v1.Envelope, queueSize),
		done:         make(chan struct{}),
		lastActivity: now,
	}
}

// Done is closed when the device connection is shutting down.
func (d *Device) Done() <-chan struct{} {
	return d.done
}

// Close stops the device goroutines and asks the connection to close.
// Safe to call more than once.
func (d *Device) Close(reason string) {
	d.stop()
	if d.closeConn != nil {
		d.closeConn(reason)
	}
}

// stop signals Done without touching the connection.
func (d *Device) stop() {
	d.closeOnce.Do(func() { close(d.done) })
}

// enqueue never blocks; false means the device is closing or its queue is full.
func (d *Device) enqueue(env v1.Envelope) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.Send <- env:
		return true
	default:
		return false
	}
}

// DeviceInfo is a point-in-time view of a device for diagnostics.
type DeviceInfo struct {
	Key            string    `json:"device_key"`
	Region         string    `json:"region"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivity   time.Time `json:"last_activity"`
	InFlight       int       `json:"in_flight"`
	QueueDepth     int       `json:"queue_depth"`
	BatteryLevel   *int      `json:"battery_level,omitempty"`
	SignalStrength *int      `json:"signal_strength,omitempty"`
	PendingCount   *int      `json:"pending_count,omitempty"`
}
