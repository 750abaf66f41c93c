// Package config persists the device configuration as a JSON document
// and resolves process-level settings from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/agrogo-wsu/field-agent/internal/rules"
)

// Backend holds the cloud endpoint templates. {mac} is substituted
// with the device id.
type Backend struct {
	ConfigURLTemplate string `json:"config_url_template"`
	UploadURLTemplate string `json:"upload_url_template"`
	NotifyURLTemplate string `json:"notify_url_template"`
	PairingStatusURL  string `json:"pairing_status_url"`
	PairingAppURL     string `json:"pairing_app_url"`
}

// Config is the on-disk device configuration. The backend may extend
// it on refresh; unknown fields are dropped on the next save, which
// the backend tolerates.
type Config struct {
	DeviceID              string      `json:"deviceId"`
	Paired                bool        `json:"paired"`
	FirebaseUID           string      `json:"firebaseUid,omitempty"`
	PairingNonce          string      `json:"pairing_nonce,omitempty"`
	LastConfigFetch       int64       `json:"last_config_fetch,omitempty"`
	SamplingInterval      int         `json:"samplingInterval"`
	ConfigRefetchInterval int         `json:"configRefetchInterval"`
	Timezone              string      `json:"timezone,omitempty"`
	Backend               Backend     `json:"backend"`
	PinActionTable        rules.Table `json:"pinActionTable"`
}

// Defaults mirrored from the provisioning image.
const (
	DefaultSamplingInterval = 900 // seconds between sensor cycles
	DefaultRefetchInterval  = 600 // seconds between config fetches
)

// Default returns a fresh config skeleton.
func Default() *Config {
	return &Config{
		SamplingInterval:      DefaultSamplingInterval,
		ConfigRefetchInterval: DefaultRefetchInterval,
		Backend: Backend{
			ConfigURLTemplate: "https://dev.agrogo.org/device/{mac}/config",
			UploadURLTemplate: "https://dev.agrogo.org/device/{mac}/data",
			NotifyURLTemplate: "https://dev.agrogo.org/device/{mac}/notify",
			PairingStatusURL:  "https://backend.agrogodev.workers.dev/api/raspi/pairingStatus",
			PairingAppURL:     "https://agrogo-wsu.github.io/device-pairing",
		},
		PinActionTable: rules.Table{},
	}
}

// SamplingPeriod returns the sampling interval as a duration.
func (c *Config) SamplingPeriod() time.Duration {
	return time.Duration(c.SamplingInterval) * time.Second
}

// RefetchPeriod returns the config refetch interval as a duration.
func (c *Config) RefetchPeriod() time.Duration {
	return time.Duration(c.ConfigRefetchInterval) * time.Second
}

// Location resolves the configured timezone, falling back to the
// system local zone. Every clock read that feeds schedule matching
// goes through the one location returned here.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("config: unknown timezone %q, using local: %v", c.Timezone, err)
		return time.Local
	}
	return loc
}

// Store reads and writes the config document at a fixed path.
type Store struct {
	path string
}

// NewStore creates a Store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the config file path.
func (s *Store) Path() string { return s.path }

// Load reads the config document. A missing or corrupt file is
// replaced with the default skeleton rather than failing — the agent
// must come up on a fresh or damaged SD card. Missing fields are
// back-filled with defaults.
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		cfg := Default()
		if err := s.Save(cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("config: %s is corrupt, replacing with defaults: %v", s.path, err)
		fresh := Default()
		if err := s.Save(fresh); err != nil {
			return nil, fmt.Errorf("replace corrupt config: %w", err)
		}
		return fresh, nil
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes the config atomically: the document goes to a temp file
// in the same directory, is synced, then renamed over the target, so
// a crash mid-write never leaves a partial file.
func (s *Store) Save(cfg *Config) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.SamplingInterval <= 0 {
		cfg.SamplingInterval = def.SamplingInterval
	}
	if cfg.ConfigRefetchInterval <= 0 {
		cfg.ConfigRefetchInterval = def.ConfigRefetchInterval
	}
	if cfg.Backend.ConfigURLTemplate == "" {
		cfg.Backend.ConfigURLTemplate = def.Backend.ConfigURLTemplate
	}
	if cfg.Backend.UploadURLTemplate == "" {
		cfg.Backend.UploadURLTemplate = def.Backend.UploadURLTemplate
	}
	if cfg.Backend.NotifyURLTemplate == "" {
		cfg.Backend.NotifyURLTemplate = def.Backend.NotifyURLTemplate
	}
	if cfg.Backend.PairingStatusURL == "" {
		cfg.Backend.PairingStatusURL = def.Backend.PairingStatusURL
	}
	if cfg.Backend.PairingAppURL == "" {
		cfg.Backend.PairingAppURL = def.Backend.PairingAppURL
	}
	if cfg.PinActionTable == nil {
		cfg.PinActionTable = rules.Table{}
	}
}

// Settings are process-level knobs resolved from the environment and
// an optional .env file. They seed the CLI flag defaults.
type Settings struct {
	ConfigPath string
	Broker     string
	HTTPAddr   string
}

// LoadEnv loads a .env file when present and resolves settings.
func LoadEnv() Settings {
	_ = godotenv.Load()

	return Settings{
		ConfigPath: getEnv("AGENT_CONFIG", "/home/pi/field-agent/config.json"),
		Broker:     getEnv("AGENT_MQTT_BROKER", ""),
		HTTPAddr:   getEnv("AGENT_HTTP_ADDR", ":8080"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
