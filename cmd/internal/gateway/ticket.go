package gateway

import (
	"context"
	"time"

	v1 "github.com/tkmdevelopers/auto.tm-main-sub000/shared/contracts/device/v1"
)

// Status is the terminal outcome of a delivery request.
type Status string

const (
	StatusSent      Status = v1.AckSent
	StatusDelivered Status = v1.AckDelivered
	StatusFailed    Status = v1.AckFailed
)

// Request asks the gateway to deliver one SMS.
type Request struct {
	// CorrelationID identifies the request end to end. Generated when empty.
	CorrelationID string
	Phone         string
	Text          string

	// Region is a preference; any device is used when none matches.
	Region string

	// LinkedID is opaque to the gateway (the OTP id) and echoed in the Resolution.
	LinkedID string
}

// Resolution is the single outcome delivered on a Ticket.
type Resolution struct {
	CorrelationID string
	LinkedID      string
	DeviceKey     string
	Status        Status

	// Error is the human-readable failure reason ("timeout", "no device available", device text).
	Error string
	// Err is the matching sentinel for failures, nil otherwise.
	Err error

	At      time.Time
	Latency time.Duration
}

// OK reports whether the device accepted the SMS.
func (r Resolution) OK() bool {
	return r.Status == StatusSent || r.Status == StatusDelivered
}

// Ticket is the caller's handle on one request.
type Ticket struct {
	CorrelationID string
	DeviceKey     string

	// Accepted is true when the request was pushed to a device and is pending.
	// A false ticket is already resolved as failed.
	Accepted bool

	ch chan Resolution
}

func newTicket(correlationID string) *Ticket {
	return &Ticket{CorrelationID: correlationID, ch: make(chan Resolution, 1)}
}

// deliver must be called at most once per ticket.
func (t *Ticket) deliver(r Resolution) {
	t.ch <- r
}

// Done yields exactly one Resolution.
func (t *Ticket) Done() <-chan Resolution {
	return t.ch
}

// Wait blocks for the Resolution or ctx.
func (t *Ticket) Wait(ctx context.Context) (Resolution, error) {
	select {
	case r := <-t.ch:
		return r, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}
