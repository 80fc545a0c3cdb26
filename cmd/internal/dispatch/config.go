package dispatch

import (
	"os"
	"strings"
	"time"
)

const (
	// DefaultTemplate is rendered with TemplateData.
	DefaultTemplate = "Your auto.tm code: {{.Code}}. It expires in {{.TTLMinutes}} minutes."

	defaultStatusWriteTimeout = 5 * time.Second
	defaultKafkaTopic         = "autotm.otp.dispatch"
)

// Config defines runtime configuration for the bridge.
type Config struct {
	// Template is a text/template over TemplateData.
	Template string

	// CodeTTL is shown to the user in the message.
	CodeTTL time.Duration

	// StatusWriteTimeout bounds each dispatch status update.
	StatusWriteTimeout time.Duration

	// KafkaBrokers enables the Kafka event sink when non-empty.
	KafkaBrokers []string
	KafkaTopic   string
}

// TemplateData is what the SMS template can reference.
type TemplateData struct {
	Code       string
	TTLMinutes int
}

// DefaultConfig returns the defaults. CodeTTL is normally copied from the OTP config.
func DefaultConfig() Config {
	return Config{
		Template:           DefaultTemplate,
		CodeTTL:            5 * time.Minute,
		StatusWriteTimeout: defaultStatusWriteTimeout,
		KafkaTopic:         defaultKafkaTopic,
	}
}

// LoadConfigFromEnv loads bridge configuration.
//
// Optional:
//   - AUTOTM_SMS_TEMPLATE
//   - AUTOTM_DISPATCH_STATUS_TIMEOUT
//   - AUTOTM_KAFKA_BROKERS (comma separated)
//   - AUTOTM_DISPATCH_KAFKA_TOPIC
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("AUTOTM_SMS_TEMPLATE"); strings.TrimSpace(v) != "" {
		cfg.Template = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTOTM_DISPATCH_STATUS_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.StatusWriteTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("AUTOTM_KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("AUTOTM_DISPATCH_KAFKA_TOPIC")); v != "" {
		cfg.KafkaTopic = v
	}
	return cfg, nil
}

// ttlMinutes rounds up so a 90s TTL reads "2 minutes", never "1".
func ttlMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
