// Package config loads Guardian runtime configuration from defaults, an
// optional YAML file and GUARDIAN_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"guardian/internal/guardian"
	"guardian/internal/observability"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// GUARDIAN_GUARDIAN_MAX_RETRY_ATTEMPTS or GUARDIAN_LOGGING_LEVEL.
const EnvPrefix = "GUARDIAN"

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full runtime configuration.
type Config struct {
	Guardian             guardian.Config     `mapstructure:"guardian"`
	observability.Config `mapstructure:",squash"`
	Notifications        NotificationsConfig `mapstructure:"notifications"`
	Persistence          PersistenceConfig   `mapstructure:"persistence"`
}

// NotificationsConfig selects the event sinks attached to the Guardian.
type NotificationsConfig struct {
	Console ConsoleConfig `mapstructure:"console"`
	Log     LogSinkConfig `mapstructure:"log"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	// Buffer is the queue size of the async dispatcher in front of slow sinks.
	Buffer int `mapstructure:"buffer"`
}

// ConsoleConfig configures colored terminal output.
type ConsoleConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Color   bool `mapstructure:"color"`
}

// LogSinkConfig routes events into the structured log.
type LogSinkConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WebhookConfig posts events to an HTTP endpoint. An empty URL disables it.
// After FailureThreshold consecutive failures the endpoint is skipped for
// Cooldown before it is tried again.
type WebhookConfig struct {
	URL              string            `mapstructure:"url"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	Headers          map[string]string `mapstructure:"headers"`
	FailureThreshold int               `mapstructure:"failure_threshold"`
	Cooldown         time.Duration     `mapstructure:"cooldown"`
}

// PersistenceConfig locates the SQLite event journal used when
// guardian.persistence_enabled is set.
type PersistenceConfig struct {
	Path string `mapstructure:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Guardian: guardian.DefaultConfig(),
		Config:   observability.DefaultConfig(),
		Notifications: NotificationsConfig{
			Console: ConsoleConfig{Enabled: true, Color: true},
			Webhook: WebhookConfig{Timeout: 10 * time.Second, FailureThreshold: 5, Cooldown: 30 * time.Second},
			Buffer:  256,
		},
		Persistence: PersistenceConfig{Path: "guardian-journal.db"},
	}
}

// Load reads configuration. path may be empty, in which case only defaults and
// environment variables apply. v may be nil; passing one lets a CLI bind flags
// before loading.
func Load(path string, v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v, "", reflect.ValueOf(Default()))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if err := c.Guardian.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Notifications.Buffer < 0 {
		return fmt.Errorf("%w: notifications.buffer must not be negative", ErrInvalidConfig)
	}
	if c.Notifications.Webhook.FailureThreshold < 0 || c.Notifications.Webhook.Cooldown < 0 {
		return fmt.Errorf("%w: notifications.webhook breaker settings must not be negative", ErrInvalidConfig)
	}
	if raw := c.Notifications.Webhook.URL; raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: notifications.webhook.url %q is not an http(s) URL", ErrInvalidConfig, raw)
		}
	}
	if c.Guardian.PersistenceEnabled && strings.TrimSpace(c.Persistence.Path) == "" {
		return fmt.Errorf("%w: persistence.path is required when persistence is enabled", ErrInvalidConfig)
	}
	switch c.Tracing.Exporter {
	case "", "otlp", "zipkin":
	default:
		return fmt.Errorf("%w: tracing.exporter %q is not supported", ErrInvalidConfig, c.Tracing.Exporter)
	}
	return nil
}

// setDefaults registers every leaf field of value under its mapstructure key
// so that AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper, prefix string, value reflect.Value) {
	typ := value.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("mapstructure")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := value.Field(i)
		if opts == "squash" {
			setDefaults(v, prefix, fv)
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Duration(0)) {
			setDefaults(v, key, fv)
			continue
		}
		switch fv.Kind() {
		case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
			if fv.IsNil() {
				continue
			}
		}
		v.SetDefault(key, fv.Interface())
	}
}
