package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the joincheck configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (JOINCHECK_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics controls the Prometheus textfile export
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// IPA configures the authenticated identity-service client
	IPA IPAConfig `mapstructure:"ipa" yaml:"ipa"`

	// Poll controls the wait loops used by enrollment checks
	Poll PollConfig `mapstructure:"poll" yaml:"poll"`

	// OpenStack selects the compute cloud the scenario suite drives
	OpenStack OpenStackConfig `mapstructure:"openstack" yaml:"openstack"`

	// SSH configures remote execution on enrolled guests
	SSH SSHConfig `mapstructure:"ssh" yaml:"ssh"`

	// TripleO enables the controller/HAProxy checks
	TripleO TripleOConfig `mapstructure:"tripleo" yaml:"tripleo"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, every remote call and retry is exported as a span to an
// OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection
	// Default: true
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig controls Prometheus metrics collection.
// joincheck is short-lived, so metrics are written to a node_exporter
// textfile on exit instead of being served over HTTP.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// TextfilePath is where the registry is written on exit.
	// Required when Enabled is true.
	TextfilePath string `mapstructure:"textfile_path" validate:"required_if=Enabled true" yaml:"textfile_path"`
}

// IPAConfig configures the FreeIPA JSON-RPC client.
type IPAConfig struct {
	// ConfigPath is the IPA client configuration (INI) the host identity is read from.
	// Default: /etc/ipa/default.conf
	ConfigPath string `mapstructure:"config_path" validate:"required" yaml:"config_path"`

	// Keytab is the keytab the client principal authenticates with.
	// Default: /etc/novajoin/krb5.keytab
	Keytab string `mapstructure:"keytab" validate:"required" yaml:"keytab"`

	// Krb5Conf is the Kerberos configuration file.
	// Default: /etc/krb5.conf
	Krb5Conf string `mapstructure:"krb5_conf" validate:"required" yaml:"krb5_conf"`

	// Service is the primary of the client principal, <service>/<host>@<REALM>.
	// Default: nova
	Service string `mapstructure:"service" validate:"required" yaml:"service"`

	// Server overrides the server named in ConfigPath.
	Server string `mapstructure:"server" yaml:"server,omitempty"`

	// ConnectRetries bounds the reconnect loop.
	// Default: 1
	ConnectRetries int `mapstructure:"connect_retries" validate:"gte=0" yaml:"connect_retries"`

	// Backoff is the initial backoff in whole seconds. 0 disables backoff.
	// Any non-negative start is accepted; doubling stops at 1024.
	Backoff int `mapstructure:"backoff" validate:"gte=0" yaml:"backoff"`

	// BackoffScope is "call" (reset per call) or "session" (carried over).
	// Default: call
	BackoffScope string `mapstructure:"backoff_scope" validate:"required,oneof=call session" yaml:"backoff_scope"`

	// Deadline bounds one call including its retries.
	// Required when Backoff is nonzero.
	Deadline time.Duration `mapstructure:"deadline" validate:"gte=0" yaml:"deadline"`

	// KeytabPollInterval is how often the keytab is checked for rotation.
	// Default: 60s. A negative value disables reloading.
	KeytabPollInterval time.Duration `mapstructure:"keytab_poll_interval" yaml:"keytab_poll_interval"`

	// Version is the API version tag injected into every call.
	// Default: 2.146
	Version string `mapstructure:"version" validate:"required" yaml:"version"`

	// InsecureTLS skips server certificate verification.
	InsecureTLS bool `mapstructure:"insecure_tls" yaml:"insecure_tls"`

	// CACert is the CA bundle used to verify the server.
	// Default: /etc/ipa/ca.crt
	CACert string `mapstructure:"ca_cert" yaml:"ca_cert"`
}

// PollConfig controls wait loops.
type PollConfig struct {
	// Interval between checks. Default: 5s
	Interval time.Duration `mapstructure:"interval" validate:"gt=0" yaml:"interval"`

	// Timeout for one wait. Default: 10m
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`
}

// OpenStackConfig selects the compute cloud. Credentials come from the
// standard OS_* environment variables.
type OpenStackConfig struct {
	// Region of the compute endpoint
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Network is the network whose address is used to reach guests
	// Default: private
	Network string `mapstructure:"network" yaml:"network"`

	// Image and Flavor are used by the scenario suite to boot guests
	Image  string `mapstructure:"image" yaml:"image,omitempty"`
	Flavor string `mapstructure:"flavor" yaml:"flavor,omitempty"`

	// KeyName is the nova keypair injected into booted guests
	KeyName string `mapstructure:"key_name" yaml:"key_name,omitempty"`
}

// SSHConfig configures remote execution.
type SSHConfig struct {
	// User to log in as. Default: cloud-user
	User string `mapstructure:"user" validate:"required" yaml:"user"`

	// KeyPath is the private key file.
	KeyPath string `mapstructure:"key_path" yaml:"key_path,omitempty"`

	// JumpHost is an optional bastion, host[:port].
	JumpHost string `mapstructure:"jump_host" yaml:"jump_host,omitempty"`

	// Port on the target. Default: 22
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// Timeout for dialing. Default: 30s
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`
}

// TripleOConfig enables overcloud controller checks.
type TripleOConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Controllers are addresses of controller nodes reached over SSH.
	Controllers []string `mapstructure:"controllers" yaml:"controllers,omitempty"`

	// HAProxyConfig is the haproxy.cfg path on controllers.
	// Default: /var/lib/config-data/puppet-generated/haproxy/etc/haproxy/haproxy.cfg
	HAProxyConfig string `mapstructure:"haproxy_config" yaml:"haproxy_config"`

	// ControllerUser is the SSH user on controllers. Default: heat-admin
	ControllerUser string `mapstructure:"controller_user" yaml:"controller_user"`
}

// Load loads configuration from file, environment, and defaults.
//
// A missing config file is not an error: defaults plus environment
// overrides are used instead.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when an
// explicitly named file does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  joincheck config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: JOINCHECK_IPA_CONNECT_RETRIES=3
	v.SetEnvPrefix("JOINCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about, so
	// register every leaf for Unmarshal to see env-only values.
	bindStructKeys(v, reflect.TypeOf(Config{}), "")

	// Zero is a meaningful retry count, so it cannot be filled in by ApplyDefaults.
	v.SetDefault("ipa.connect_retries", DefaultConnectRetries)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func bindStructKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			bindStructKeys(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "joincheck")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "joincheck")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
