package gateway

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines runtime configuration for the device gateway.
type Config struct {
	// RegisterGrace is how long a fresh connection may stay unregistered.
	RegisterGrace time.Duration

	// AckTimeout bounds the wait for a device ack per request.
	AckTimeout time.Duration

	// SharedSecret, when set, must be presented in register.auth_token.
	SharedSecret string

	// DefaultRegion is assigned to devices that register without one.
	DefaultRegion string

	SendQueueSize int
	WriteTimeout  time.Duration

	// ReadIdleTimeout closes a connection that sends nothing for this long.
	// Zero disables it; liveness then rests on the heartbeat ping counter.
	ReadIdleTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	// Origin policy. Handset clients normally send no Origin header, so it is
	// optional by default; when present it must be allowlisted.
	OriginRequired bool
	AllowedOrigins []string

	// DevInsecure disables websocket.Accept origin verification. Dev only.
	DevInsecure bool
}

// DefaultConfig returns production defaults (no shared secret).
func DefaultConfig() Config {
	return Config{
		RegisterGrace:     defaultRegisterGrace,
		AckTimeout:        defaultAckTimeout,
		DefaultRegion:     "default",
		SendQueueSize:     defaultSendQueueSize,
		WriteTimeout:      defaultWriteTimeout,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
	}
}

// LoadConfigFromEnv loads gateway configuration.
//
// Optional:
//   - AUTOTM_GATEWAY_SHARED_SECRET
//   - AUTOTM_GATEWAY_DEFAULT_REGION
//   - AUTOTM_GATEWAY_REGISTER_GRACE
//   - AUTOTM_GATEWAY_ACK_TIMEOUT
//   - AUTOTM_GATEWAY_SEND_QUEUE
//   - AUTOTM_GATEWAY_WRITE_TIMEOUT
//   - AUTOTM_GATEWAY_READ_IDLE_TIMEOUT (0 disables)
//   - AUTOTM_GATEWAY_HEARTBEAT_INTERVAL
//   - AUTOTM_GATEWAY_HEARTBEAT_TIMEOUT
//   - AUTOTM_GATEWAY_RATE_EVENTS
//   - AUTOTM_GATEWAY_RATE_WINDOW
//   - AUTOTM_GATEWAY_ORIGIN_REQUIRED
//   - AUTOTM_GATEWAY_ALLOWED_ORIGINS (comma separated)
//   - AUTOTM_GATEWAY_DEV_INSECURE
//
// Returns ErrConfig if any value is malformed.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.SharedSecret = strings.TrimSpace(os.Getenv("AUTOTM_GATEWAY_SHARED_SECRET"))
	if v := strings.TrimSpace(os.Getenv("AUTOTM_GATEWAY_DEFAULT_REGION")); v != "" {
		cfg.DefaultRegion = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"AUTOTM_GATEWAY_REGISTER_GRACE", &cfg.RegisterGrace},
		{"AUTOTM_GATEWAY_ACK_TIMEOUT", &cfg.AckTimeout},
		{"AUTOTM_GATEWAY_WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"AUTOTM_GATEWAY_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
		{"AUTOTM_GATEWAY_HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout},
		{"AUTOTM_GATEWAY_RATE_WINDOW", &cfg.RateWindow},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("AUTOTM_GATEWAY_READ_IDLE_TIMEOUT")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 {
			return Config{}, ErrConfig
		}
		cfg.ReadIdleTimeout = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"AUTOTM_GATEWAY_SEND_QUEUE", &cfg.SendQueueSize},
		{"AUTOTM_GATEWAY_RATE_EVENTS", &cfg.RateEvents},
	}
	for _, n := range ints {
		v := strings.TrimSpace(os.Getenv(n.key))
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return Config{}, ErrConfig
		}
		*n.dst = parsed
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"AUTOTM_GATEWAY_ORIGIN_REQUIRED", &cfg.OriginRequired},
		{"AUTOTM_GATEWAY_DEV_INSECURE", &cfg.DevInsecure},
	}
	for _, b := range bools {
		v := strings.TrimSpace(os.Getenv(b.key))
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		*b.dst = parsed
	}

	if v, ok := os.LookupEnv("AUTOTM_GATEWAY_ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitCSV(v)
	}

	if cfg.SendQueueSize < minSendQueueSize {
		cfg.SendQueueSize = minSendQueueSize
	}
	return cfg, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// withDefaults fills zero values so a partially built Config still works.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RegisterGrace <= 0 {
		c.RegisterGrace = d.RegisterGrace
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if strings.TrimSpace(c.DefaultRegion) == "" {
		c.DefaultRegion = d.DefaultRegion
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout < 0 {
		c.ReadIdleTimeout = 0
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}
