// Package v1 defines the SMS device protocol v1 contract.
//
// It is shared between the gateway and device clients (including tools/devicesim)
// so the wire format stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "autotm.device.v1"

// Type constants (wire-stable).
const (
	// TypeRegister announces a device (device -> gateway).
	TypeRegister = "register"
	// TypeRegisterAck answers a registration attempt (gateway -> device).
	TypeRegisterAck = "register_ack"

	// TypeSend asks the device to send one SMS (gateway -> device).
	TypeSend = "send"
	// TypeAck reports the outcome of a send (device -> gateway).
	TypeAck = "ack"

	// TypeStatus is a best-effort device heartbeat (device -> gateway).
	TypeStatus = "status"
	// TypePing is a liveness probe (gateway -> device). No reply is required.
	TypePing = "ping"

	// TypeError is a generic error envelope (gateway -> device).
	TypeError = "error"
)

// Ack status values reported by devices.
const (
	AckSent      = "sent"
	AckDelivered = "delivered"
	AckFailed    = "failed"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeRegister,
		TypeRegisterAck,
		TypeSend,
		TypeAck,
		TypeStatus,
		TypePing,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// RegisterPayload is sent by a device right after connecting.
type RegisterPayload struct {
	AuthToken string `json:"auth_token,omitempty"`
	Region    string `json:"region,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
}

// RegisterAckPayload answers a registration attempt.
type RegisterAckPayload struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	DeviceKey string `json:"device_key,omitempty"`
}

// SendPayload asks the device to deliver Text to Phone.
type SendPayload struct {
	CorrelationID string `json:"correlation_id"`
	Phone         string `json:"phone"`
	Text          string `json:"text"`
}

// AckPayload reports the outcome for a previously pushed send.
type AckPayload struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// Validate checks the fields the gateway relies on.
func (p AckPayload) Validate() error {
	if strings.TrimSpace(p.CorrelationID) == "" {
		return errors.New("missing correlation_id")
	}
	switch p.Status {
	case AckSent, AckDelivered, AckFailed:
		return nil
	default:
		return fmt.Errorf("unknown ack status: %q", p.Status)
	}
}

// StatusPayload is the optional device heartbeat body.
type StatusPayload struct {
	BatteryLevel   *int `json:"battery_level,omitempty"`
	SignalStrength *int `json:"signal_strength,omitempty"`
	PendingCount   *int `json:"pending_count,omitempty"`
}

// PingPayload carries the gateway clock for diagnostics.
type PingPayload struct {
	ServerTS time.Time `json:"server_ts"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
