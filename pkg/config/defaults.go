package config

import (
	"strings"
	"time"
)

const (
	DefaultIPAConfigPath      = "/etc/ipa/default.conf"
	DefaultKeytab             = "/etc/novajoin/krb5.keytab"
	DefaultKrb5Conf           = "/etc/krb5.conf"
	DefaultCACert             = "/etc/ipa/ca.crt"
	DefaultService            = "nova"
	DefaultConnectRetries     = 1
	DefaultAPIVersion         = "2.146"
	DefaultKeytabPollInterval = 60 * time.Second
	DefaultHAProxyConfig      = "/var/lib/config-data/puppet-generated/haproxy/etc/haproxy/haproxy.cfg"

	BackoffScopeCall    = "call"
	BackoffScopeSession = "session"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyIPADefaults(&cfg.IPA)
	applyPollDefaults(&cfg.Poll)
	applyOpenStackDefaults(&cfg.OpenStack)
	applySSHDefaults(&cfg.SSH)
	applyTripleODefaults(&cfg.TripleO)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	// stdout carries command output
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyIPADefaults(cfg *IPAConfig) {
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = DefaultIPAConfigPath
	}
	if cfg.Keytab == "" {
		cfg.Keytab = DefaultKeytab
	}
	if cfg.Krb5Conf == "" {
		cfg.Krb5Conf = DefaultKrb5Conf
	}
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.BackoffScope == "" {
		cfg.BackoffScope = BackoffScopeCall
	}
	cfg.BackoffScope = strings.ToLower(cfg.BackoffScope)
	if cfg.KeytabPollInterval == 0 {
		cfg.KeytabPollInterval = DefaultKeytabPollInterval
	}
	if cfg.Version == "" {
		cfg.Version = DefaultAPIVersion
	}
	if cfg.CACert == "" && !cfg.InsecureTLS {
		cfg.CACert = DefaultCACert
	}
}

func applyPollDefaults(cfg *PollConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
}

func applyOpenStackDefaults(cfg *OpenStackConfig) {
	if cfg.Network == "" {
		cfg.Network = "private"
	}
}

func applySSHDefaults(cfg *SSHConfig) {
	if cfg.User == "" {
		cfg.User = "cloud-user"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
}

func applyTripleODefaults(cfg *TripleOConfig) {
	if cfg.HAProxyConfig == "" {
		cfg.HAProxyConfig = DefaultHAProxyConfig
	}
	if cfg.ControllerUser == "" {
		cfg.ControllerUser = "heat-admin"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		IPA: IPAConfig{
			ConnectRetries: DefaultConnectRetries,
		},
		Telemetry: TelemetryConfig{
			Insecure: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
