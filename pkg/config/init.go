package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# joincheck Configuration File
#
# Every key can be overridden with an environment variable using the
# JOINCHECK_ prefix, e.g. JOINCHECK_IPA_CONNECT_RETRIES=3.

logging:
  level: INFO      # DEBUG, INFO, WARN, ERROR
  format: text     # text, json
  output: stderr   # stdout, stderr, or a file path

telemetry:
  enabled: false
  endpoint: localhost:4317
  insecure: true
  sample_rate: 1.0

metrics:
  enabled: false
  # textfile_path: /var/lib/node_exporter/textfile/joincheck.prom

ipa:
  config_path: /etc/ipa/default.conf
  keytab: /etc/novajoin/krb5.keytab
  krb5_conf: /etc/krb5.conf
  service: nova
  connect_retries: 1
  # Initial backoff in seconds; doubles per failure up to 1024.
  # A deadline is required when backoff is enabled.
  backoff: 0
  backoff_scope: call  # call, session
  # deadline: 5m
  keytab_poll_interval: 60s
  version: "2.146"
  ca_cert: /etc/ipa/ca.crt

poll:
  interval: 5s
  timeout: 10m

openstack:
  network: private
  # region: regionOne
  # image: rhel-guest
  # flavor: m1.small
  # key_name: joincheck

ssh:
  user: cloud-user
  port: 22
  timeout: 30s
  # key_path: ~/.ssh/id_rsa
  # jump_host: undercloud.example.com

tripleo:
  enabled: false
  controller_user: heat-admin
  haproxy_config: /var/lib/config-data/puppet-generated/haproxy/etc/haproxy/haproxy.cfg
  # controllers:
  #   - 192.168.24.10
`

// InitConfig writes the sample configuration to the default location.
// Returns the path written to.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the sample configuration to path. An existing
// file is only replaced when force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
