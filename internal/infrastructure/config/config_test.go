package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	testAccessSecret  = "access-secret-key-at-least-32-chars!"
	testRefreshSecret = "refresh-secret-key-at-least-32-chars"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.AccessSecret = testAccessSecret
	cfg.Security.JWT.RefreshSecret = testRefreshSecret
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
database:
  driver: "sqlite3"
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
store:
  ping_timeout_ms: 250
  cooldown_seconds: 2
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  topic_prefix: "crm-test"
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    access_secret: "access-secret-key-at-least-32-chars!"
    refresh_secret: "refresh-secret-key-at-least-32-chars"
    access_token_ttl: 10
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.TopicPrefix != "crm-test" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "crm-test")
	}
	if got := cfg.GetPingTimeout().Milliseconds(); got != 250 {
		t.Errorf("GetPingTimeout() = %dms, want 250ms", got)
	}
	if got := cfg.GetCooldown().Seconds(); got != 2 {
		t.Errorf("GetCooldown() = %vs, want 2s", got)
	}
	if got := cfg.GetAccessTokenTTL().Minutes(); got != 10 {
		t.Errorf("GetAccessTokenTTL() = %v minutes, want 10", got)
	}
	// Not set in the file, so the seven day default survives.
	if got := cfg.GetRefreshTokenTTL().Hours(); got != 168 {
		t.Errorf("GetRefreshTokenTTL() = %v hours, want 168", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/test.db"
api:
  port: 8080
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for missing secrets, got nil")
	}
	if !strings.Contains(err.Error(), "access_secret") {
		t.Errorf("error = %v, want mention of access_secret", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "valid postgres config",
			mutate:  func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.DSN = "postgres://crm@localhost/crm" },
			wantErr: false,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Database.Driver = DriverPostgres },
			wantErr: true,
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "non-positive ping timeout",
			mutate:  func(c *Config) { c.Store.PingTimeoutMS = 0 },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing access secret",
			mutate:  func(c *Config) { c.Security.JWT.AccessSecret = "" },
			wantErr: true,
		},
		{
			name:    "refresh secret too short",
			mutate:  func(c *Config) { c.Security.JWT.RefreshSecret = "short" },
			wantErr: true,
		},
		{
			name:    "identical secrets",
			mutate:  func(c *Config) { c.Security.JWT.RefreshSecret = testAccessSecret },
			wantErr: true,
		},
		{
			name:    "negative ttl",
			mutate:  func(c *Config) { c.Security.JWT.AccessTokenTTL = -1 },
			wantErr: true,
		},
		{
			name:    "rate limit enabled without budget",
			mutate:  func(c *Config) { c.Security.RateLimit.RequestsPerMinute = 0 },
			wantErr: true,
		},
		{
			name: "rate limit disabled without budget",
			mutate: func(c *Config) {
				c.Security.RateLimit.Enabled = false
				c.Security.RateLimit.RequestsPerMinute = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.API.Port = 0
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	for _, want := range []string{"api.port", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %v, want mention of %s", err, want)
		}
	}
}

func TestAPITimeoutConfig_Durations(t *testing.T) {
	timeouts := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	if got := timeouts.ReadTimeout().Seconds(); got != 30 {
		t.Errorf("ReadTimeout() = %v, want 30", got)
	}

	if got := timeouts.WriteTimeout().Seconds(); got != 45 {
		t.Errorf("WriteTimeout() = %v, want 45", got)
	}

	if got := timeouts.IdleTimeout().Seconds(); got != 60 {
		t.Errorf("IdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("CRM_DATABASE_DRIVER", "postgres")
	t.Setenv("CRM_DATABASE_DSN", "postgres://crm@db/crm")
	t.Setenv("CRM_DATABASE_PATH", "/custom/path.db")
	t.Setenv("CRM_STORE_SEED_FIXTURES", "false")
	t.Setenv("CRM_MQTT_HOST", "mqtt.example.com")
	t.Setenv("CRM_MQTT_USERNAME", "testuser")
	t.Setenv("CRM_MQTT_PASSWORD", "testpass")
	t.Setenv("CRM_API_HOST", "192.168.1.1")
	t.Setenv("CRM_API_PORT", "9090")
	t.Setenv("CRM_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("CRM_JWT_ACCESS_SECRET", "access")
	t.Setenv("CRM_JWT_REFRESH_SECRET", "refresh")

	applyEnvOverrides(cfg)

	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverPostgres)
	}
	if cfg.Database.DSN != "postgres://crm@db/crm" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.Store.SeedFixtures {
		t.Error("Store.SeedFixtures = true, want false")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Security.JWT.AccessSecret != "access" || cfg.Security.JWT.RefreshSecret != "refresh" {
		t.Errorf("JWT secrets = %q/%q, want access/refresh", cfg.Security.JWT.AccessSecret, cfg.Security.JWT.RefreshSecret)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("defaultConfig Database.Driver = %q, want %q", cfg.Database.Driver, DriverSQLite)
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Security.JWT.AccessTokenTTL != 15 {
		t.Errorf("defaultConfig AccessTokenTTL = %d, want 15", cfg.Security.JWT.AccessTokenTTL)
	}
	if cfg.Security.BootstrapAdminEmail != "admin@crm.com" {
		t.Errorf("defaultConfig BootstrapAdminEmail = %q", cfg.Security.BootstrapAdminEmail)
	}

	// Secrets are never defaulted.
	if err := cfg.Validate(); err == nil {
		t.Error("defaultConfig should fail validation until secrets are set")
	}
}
