// Package config resolves Remote/Agent construction options from a YAML
// file, environment variables, and CLI flags, in that increasing priority
// order (flag > env > file > default), following the teacher's
// StandardConfigResolver pattern in public/agent/config.go.
//
// Grounded on internal/config/config.go's YAML loader for file structure
// and public/agent/config.go's flag/env/file/default precedence chain.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved set of options a Remote or Agent needs to connect
// to the broker (spec.md §6: CLI surface / broker requirements).
type Config struct {
	Broker   string `yaml:"broker"`
	Domain   string `yaml:"domain"`
	Agent    string `yaml:"agent"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
	// TimeoutMS is the per-call timeout in milliseconds (spec.md §4.5,
	// default 5000).
	TimeoutMS int `yaml:"timeout_ms"`
	// TLSInsecureSkipVerify disables certificate verification; only meant
	// for local development against a self-signed broker.
	TLSInsecureSkipVerify bool `yaml:"tls_insecure_skip_verify"`
}

// Default returns the baseline configuration before file/env/flag overrides
// are applied (spec.md §6: "Default endpoint mqtts://vrpc.io:8883").
func Default() Config {
	return Config{
		Broker:    "mqtts://vrpc.io:8883",
		Domain:    "*",
		Agent:     "*",
		TimeoutMS: 5000,
	}
}

// Timeout returns TimeoutMS as a time.Duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Load reads and parses a YAML config file, merging its fields over
// Default(). A missing file is not an error: Default() is returned as-is,
// matching the teacher's tolerant file-then-env-then-flag layering.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if !fileExists(path) {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ApplyEnv overlays environment variables onto cfg, taking priority over
// the file but still below explicit flags (spec.md's CLI surface options:
// token, username, password, domain, agent, broker, timeout).
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("VRPC_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := os.Getenv("VRPC_DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv("VRPC_AGENT"); v != "" {
		cfg.Agent = v
	}
	if v := os.Getenv("VRPC_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("VRPC_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("VRPC_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("VRPC_TIMEOUT_MS"); v != "" {
		var ms int
		if _, err := fmt.Sscanf(v, "%d", &ms); err == nil {
			cfg.TimeoutMS = ms
		}
	}
	return cfg
}

// AuthUsername and AuthPassword implement spec.md §6's authentication
// mode selection: when Token is set, username is fixed to the literal
// "__token__" and the token is sent as password, overriding any configured
// username/password.
func (c Config) AuthUsername() string {
	if c.Token != "" {
		return "__token__"
	}
	return c.Username
}

func (c Config) AuthPassword() string {
	if c.Token != "" {
		return c.Token
	}
	return c.Password
}

// Validate checks required invariants before a Config is used to construct
// a Remote or Agent (spec.md §7: configuration errors surface synchronously
// at the call site).
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("config: broker is required")
	}
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("config: timeout_ms must be positive")
	}
	return nil
}
