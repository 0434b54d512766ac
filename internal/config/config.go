// Package config loads ~/.crmchat/config.toml and overlays CRMCHAT_*
// environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents ~/.crmchat/config.toml.
type Config struct {
	DataDir string        `toml:"data_dir"`
	Bridge  BridgeConfig  `toml:"bridge"`
	HTTP    HTTPConfig    `toml:"http"`
	Webhook WebhookConfig `toml:"webhook"`
	Valkey  ValkeyConfig  `toml:"valkey"`
	Sync    SyncConfig    `toml:"sync"`
	Greeter GreeterConfig `toml:"greeter"`
	Avatar  AvatarConfig  `toml:"avatar"`
}

// BridgeConfig points at the wwebjs-api service.
type BridgeConfig struct {
	URL            string   `toml:"url"`
	APIKey         string   `toml:"api_key"`
	SessionID      string   `toml:"session_id"`
	Timeout        Duration `toml:"timeout"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	Retries        int      `toml:"retries"`
	RetryDelay     Duration `toml:"retry_delay"`
}

// HTTPConfig is the daemon's listener. BasicAuth entries are "user:secret".
type HTTPConfig struct {
	Listen    string   `toml:"listen"`
	BasicAuth []string `toml:"basic_auth"`
}

// WebhookConfig holds the shared secret of inbound bridge callbacks. An
// empty secret disables signature checks.
type WebhookConfig struct {
	Secret string `toml:"secret"`
}

// ValkeyConfig enables the cross-instance relay and avatar cache when
// Address is set.
type ValkeyConfig struct {
	Address  string `toml:"address"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// SyncConfig holds the client-side polling and retry cadence.
type SyncConfig struct {
	StatusInterval    Duration `toml:"status_interval"`
	ChatPollInterval  Duration `toml:"chat_poll_interval"`
	ListPollInterval  Duration `toml:"list_poll_interval"`
	ResubscribeDelay  Duration `toml:"resubscribe_delay"`
	ResubscribeMax    int      `toml:"resubscribe_max"`
	LoginPollInterval Duration `toml:"login_poll_interval"`
	LoginPollMax      int      `toml:"login_poll_max"`
	MessageLimit      int      `toml:"message_limit"`
}

// GreeterConfig controls the welcome message sent to new leads.
type GreeterConfig struct {
	Enabled  bool   `toml:"enabled"`
	Template string `toml:"template"`
}

// AvatarConfig controls profile picture caching.
type AvatarConfig struct {
	TTL Duration `toml:"ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			URL:            "http://localhost:3000",
			SessionID:      "espocrm-session",
			Timeout:        Duration{30 * time.Second},
			ConnectTimeout: Duration{5 * time.Second},
			Retries:        3,
			RetryDelay:     Duration{500 * time.Millisecond},
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:8088",
		},
		Valkey: ValkeyConfig{
			Prefix: "crmchat",
		},
		Sync: SyncConfig{
			StatusInterval:    Duration{5 * time.Second},
			ChatPollInterval:  Duration{5 * time.Second},
			ListPollInterval:  Duration{15 * time.Second},
			ResubscribeDelay:  Duration{2 * time.Second},
			ResubscribeMax:    5,
			LoginPollInterval: Duration{3 * time.Second},
			LoginPollMax:      60,
			MessageLimit:      50,
		},
		Greeter: GreeterConfig{
			Template: "Ciao {{.Name}}! Grazie per il tuo interesse. Ti contatteremo presto.",
		},
		Avatar: AvatarConfig{
			TTL: Duration{24 * time.Hour},
		},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
