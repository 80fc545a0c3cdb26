package gateway

import "time"

const (
	// Max bytes per websocket frame read from a device.
	maxFrameBytes = 16 << 10

	// Max SMS body accepted for dispatch (runes). Longer texts are multipart on
	// the handset and are not something an OTP ever needs.
	maxSMSChars = 480

	// Max length of a device-chosen key.
	maxDeviceKeyLen = 128
)

const (
	defaultRegisterGrace = 10 * time.Second
	defaultAckTimeout    = 30 * time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	defaultSendQueueSize = 64
	minSendQueueSize     = 4

	defaultWriteTimeout = 5 * time.Second
	closeGrace          = 1 * time.Second

	maxPingFailures = 3

	// Per-connection inbound event budget.
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
