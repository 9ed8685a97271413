package config

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*Config) bool
	}{
		{
			name: "loads with all required vars",
			envVars: map[string]string{
				"PORT":                "8080",
				"ENV":                 "production",
				"DATABASE_URL":        "postgres://localhost/test",
				"ADMIN_TOKEN":         "secret123",
				"ATTENDANCE_COOLDOWN": "2m",
				"MATCH_INDEX":         "hnsw",
			},
			wantErr: false,
			check: func(c *Config) bool {
				return c.Port == 8080 &&
					c.Environment == "production" &&
					c.DatabaseURL == "postgres://localhost/test" &&
					c.AdminToken == "secret123" &&
					c.CoolDown == 2*time.Minute &&
					c.UseIndex()
			},
		},
		{
			name: "uses defaults when optional vars missing",
			envVars: map[string]string{
				"DATABASE_URL": "postgres://localhost/test",
				"ADMIN_TOKEN":  "secret123",
			},
			wantErr: false,
			check: func(c *Config) bool {
				return c.Port == 3000 &&
					c.Environment == "development" &&
					c.EmbeddingDim == 192 &&
					c.MatchMetric == "cosine" &&
					c.AcceptThreshold == 0.3 &&
					c.AmbiguousThreshold == 0.5 &&
					c.CoolDown == 60*time.Second &&
					c.MaxAttempts == 10 &&
					c.MaxBackoff == 5*time.Minute &&
					c.MQTTTopic == "attendance/logs" &&
					c.MQTTQoS == 1 &&
					!c.UseIndex()
			},
		},
		{
			name: "fails when DATABASE_URL missing",
			envVars: map[string]string{
				"ADMIN_TOKEN": "secret123",
			},
			wantErr: true,
		},
		{
			name: "fails when ADMIN_TOKEN missing",
			envVars: map[string]string{
				"DATABASE_URL": "postgres://localhost/test",
			},
			wantErr: true,
		},
		{
			name: "fails on inverted thresholds",
			envVars: map[string]string{
				"DATABASE_URL":              "postgres://localhost/test",
				"ADMIN_TOKEN":               "secret123",
				"MATCH_ACCEPT_THRESHOLD":    "0.6",
				"MATCH_AMBIGUOUS_THRESHOLD": "0.5",
			},
			wantErr: true,
		},
		{
			name: "fails on malformed duration",
			envVars: map[string]string{
				"DATABASE_URL":        "postgres://localhost/test",
				"ADMIN_TOKEN":         "secret123",
				"ATTENDANCE_COOLDOWN": "soon",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := Load()

			if tt.wantErr {
				if err == nil {
					t.Errorf("Load() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("Load() unexpected error: %v", err)
				return
			}

			if tt.check != nil && !tt.check(cfg) {
				t.Errorf("Load() config check failed, got: %+v", cfg)
			}
		})
	}
}

func validConfig() Config {
	return Config{
		Environment:        "development",
		EmbeddingDim:       192,
		MatchMetric:        "cosine",
		AcceptThreshold:    0.3,
		AmbiguousThreshold: 0.5,
		TieEpsilon:         1e-6,
		MatchIndex:         "linear",
		IndexCandidates:    32,
		CoolDown:           time.Minute,
		FrameWorkers:       4,
		FrameBuffer:        64,
		BaseBackoff:        time.Second,
		MaxBackoff:         5 * time.Minute,
		MaxAttempts:        10,
		DeliveryTimeout:    5 * time.Second,
		MQTTQoS:            1,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown env", func(c *Config) { c.Environment = "staging" }, "ENV"},
		{"zero dimension", func(c *Config) { c.EmbeddingDim = 0 }, "EMBEDDING_DIM"},
		{"unknown metric", func(c *Config) { c.MatchMetric = "manhattan" }, "MATCH_METRIC"},
		{"negative epsilon", func(c *Config) { c.TieEpsilon = -1 }, "MATCH_TIE_EPSILON"},
		{"unknown index", func(c *Config) { c.MatchIndex = "ivf" }, "MATCH_INDEX"},
		{"hnsw without candidates", func(c *Config) { c.MatchIndex = "hnsw"; c.IndexCandidates = 0 }, "MATCH_INDEX_CANDIDATES"},
		{"zero cool-down", func(c *Config) { c.CoolDown = 0 }, "ATTENDANCE_COOLDOWN"},
		{"backoff above cap", func(c *Config) { c.BaseBackoff = 10 * time.Minute }, "DELIVERY_BASE_BACKOFF"},
		{"no attempts", func(c *Config) { c.MaxAttempts = 0 }, "DELIVERY_MAX_ATTEMPTS"},
		{"qos out of range", func(c *Config) { c.MQTTQoS = 3 }, "MQTT_QOS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)

			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"development", "development", true},
		{"production", "production", false},
		{"test", "test", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Environment: tt.env}
			if got := c.IsDevelopment(); got != tt.want {
				t.Errorf("IsDevelopment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"production", "production", true},
		{"development", "development", false},
		{"test", "test", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Environment: tt.env}
			if got := c.IsProduction(); got != tt.want {
				t.Errorf("IsProduction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("production writes json at info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&buf, "production", "")

		logger.Debug("hidden")
		logger.Info("check-in recorded", "seq", 1)

		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Errorf("debug line written in production: %s", out)
		}
		if !strings.Contains(out, `"msg":"check-in recorded"`) || !strings.Contains(out, `"service":"chamada"`) {
			t.Errorf("unexpected production output: %s", out)
		}
	})

	t.Run("level override", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&buf, "development", "warn")

		logger.Info("hidden")
		logger.Warn("shown")

		out := buf.String()
		if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
			t.Errorf("level override not applied: %s", out)
		}
	})

	t.Run("invalid level keeps default", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&buf, "test", "loud")

		logger.Debug("shown")

		if !strings.Contains(buf.String(), "shown") {
			t.Errorf("debug line missing: %s", buf.String())
		}
	})
}
