package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Security
	AdminToken string `envconfig:"ADMIN_TOKEN" required:"true"`

	// Device
	DeviceID string `envconfig:"DEVICE_ID" default:"chamada-01"`

	// Matching
	EmbeddingDim       int     `envconfig:"EMBEDDING_DIM" default:"192"`
	MatchMetric        string  `envconfig:"MATCH_METRIC" default:"cosine"`
	AcceptThreshold    float64 `envconfig:"MATCH_ACCEPT_THRESHOLD" default:"0.3"`
	AmbiguousThreshold float64 `envconfig:"MATCH_AMBIGUOUS_THRESHOLD" default:"0.5"`
	TieEpsilon         float64 `envconfig:"MATCH_TIE_EPSILON" default:"1e-6"`
	MatchIndex         string  `envconfig:"MATCH_INDEX" default:"linear"`
	IndexCandidates    int     `envconfig:"MATCH_INDEX_CANDIDATES" default:"32"`

	// Attendance
	CoolDown     time.Duration `envconfig:"ATTENDANCE_COOLDOWN" default:"60s"`
	FrameWorkers int           `envconfig:"FRAME_WORKERS" default:"4"`
	FrameBuffer  int           `envconfig:"FRAME_BUFFER" default:"64"`

	// Delivery
	BaseBackoff     time.Duration `envconfig:"DELIVERY_BASE_BACKOFF" default:"1s"`
	MaxBackoff      time.Duration `envconfig:"DELIVERY_MAX_BACKOFF" default:"5m"`
	MaxAttempts     int           `envconfig:"DELIVERY_MAX_ATTEMPTS" default:"10"`
	DeliveryTimeout time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"5s"`

	// Retention
	RetentionDelivered time.Duration `envconfig:"RETENTION_DELIVERED" default:"720h"`
	RetentionInterval  time.Duration `envconfig:"RETENTION_INTERVAL" default:"1h"`

	// MQTT
	MQTTBrokerURL  string `envconfig:"MQTT_BROKER_URL" default:"tcp://localhost:1883"`
	MQTTClientID   string `envconfig:"MQTT_CLIENT_ID" default:"chamada"`
	MQTTTopic      string `envconfig:"MQTT_TOPIC" default:"attendance/logs"`
	MQTTAlertTopic string `envconfig:"MQTT_ALERT_TOPIC" default:"attendance/alerts"`
	MQTTFrameTopic string `envconfig:"MQTT_FRAME_TOPIC"`
	MQTTQoS        int    `envconfig:"MQTT_QOS" default:"1"`
	MQTTUsername   string `envconfig:"MQTT_USERNAME"`
	MQTTPassword   string `envconfig:"MQTT_PASSWORD"`

	// Operator alerts
	AlertWebhookURL    string `envconfig:"ALERT_WEBHOOK_URL"`
	AlertWebhookSecret string `envconfig:"ALERT_WEBHOOK_SECRET"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case "development", "production", "test":
	default:
		errs = append(errs, fmt.Errorf("ENV must be development, production or test, got %q", c.Environment))
	}

	if c.EmbeddingDim <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIM must be positive"))
	}
	switch c.MatchMetric {
	case "cosine", "euclidean":
	default:
		errs = append(errs, fmt.Errorf("MATCH_METRIC must be cosine or euclidean, got %q", c.MatchMetric))
	}
	if c.AcceptThreshold < 0 || c.AcceptThreshold > c.AmbiguousThreshold {
		errs = append(errs, errors.New("MATCH_ACCEPT_THRESHOLD must be within [0, MATCH_AMBIGUOUS_THRESHOLD]"))
	}
	if c.TieEpsilon < 0 {
		errs = append(errs, errors.New("MATCH_TIE_EPSILON must not be negative"))
	}
	switch c.MatchIndex {
	case "linear":
	case "hnsw":
		if c.IndexCandidates <= 0 {
			errs = append(errs, errors.New("MATCH_INDEX_CANDIDATES must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("MATCH_INDEX must be linear or hnsw, got %q", c.MatchIndex))
	}

	if c.CoolDown <= 0 {
		errs = append(errs, errors.New("ATTENDANCE_COOLDOWN must be positive"))
	}
	if c.FrameWorkers <= 0 || c.FrameBuffer <= 0 {
		errs = append(errs, errors.New("FRAME_WORKERS and FRAME_BUFFER must be positive"))
	}

	if c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		errs = append(errs, errors.New("DELIVERY_BASE_BACKOFF must be positive and not above DELIVERY_MAX_BACKOFF"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("DELIVERY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("DELIVERY_TIMEOUT must be positive"))
	}

	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTTQoS))
	}

	if c.AlertWebhookSecret != "" && c.AlertWebhookURL == "" {
		errs = append(errs, errors.New("ALERT_WEBHOOK_SECRET is set without ALERT_WEBHOOK_URL"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// UseIndex reports whether the HNSW candidate index is enabled.
func (c *Config) UseIndex() bool {
	return c.MatchIndex == "hnsw"
}
