package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CRMCHAT_"

// Resolve builds the effective configuration: defaults, then the TOML file
// at path when it exists, then variables from envFile (if present, without
// overriding the process environment), then CRMCHAT_* variables.
func Resolve(path, envFile string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays CRMCHAT_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			dst.Duration = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("DATA_DIR", &c.DataDir)
	str("BRIDGE_URL", &c.Bridge.URL)
	str("BRIDGE_API_KEY", &c.Bridge.APIKey)
	str("BRIDGE_SESSION_ID", &c.Bridge.SessionID)
	dur("BRIDGE_TIMEOUT", &c.Bridge.Timeout)
	num("BRIDGE_RETRIES", &c.Bridge.Retries)
	str("HTTP_LISTEN", &c.HTTP.Listen)
	if v, ok := get("HTTP_BASIC_AUTH"); ok {
		c.HTTP.BasicAuth = strings.Split(v, ",")
	}
	str("WEBHOOK_SECRET", &c.Webhook.Secret)
	str("VALKEY_ADDRESS", &c.Valkey.Address)
	str("VALKEY_PASSWORD", &c.Valkey.Password)
	num("VALKEY_DB", &c.Valkey.DB)
	str("VALKEY_PREFIX", &c.Valkey.Prefix)
	dur("SYNC_STATUS_INTERVAL", &c.Sync.StatusInterval)
	flag("GREETER_ENABLED", &c.Greeter.Enabled)
	str("GREETER_TEMPLATE", &c.Greeter.Template)
	dur("AVATAR_TTL", &c.Avatar.TTL)

	return errors.Join(errs...)
}
