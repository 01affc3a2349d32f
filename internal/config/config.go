package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"devlink/internal/transport"
)

const ConfigFileName = "devlink.yaml"

// EnvConfigPath overrides the location of the config file.
const EnvConfigPath = "DEVLINK_CONFIG"

type Config struct {
	DeviceID       string   `yaml:"device_id"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Username       string   `yaml:"username"`
	PrivateKey     string   `yaml:"private_key,omitempty"`
	Passphrase     string   `yaml:"passphrase,omitempty"`
	Password       string   `yaml:"password,omitempty"`
	KnownHosts     string   `yaml:"known_hosts,omitempty"`
	ConnectTimeout string   `yaml:"connect_timeout"`
	OutputMode     string   `yaml:"output_mode"`
	PushDir        string   `yaml:"push_dir"`
	StartPath      string   `yaml:"start_path"`
	LogCommand     string   `yaml:"log_command"`
	HeadBytes      int      `yaml:"head_bytes"`
	Actions        []Action `yaml:"actions"`
}

// Action is a preset one-shot command.
type Action struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	// Capture is how many bytes of first output to show; 0 drains silently.
	Capture int `yaml:"capture,omitempty"`
}

// Default returns a config with the e-reader presets filled in.
func Default() *Config {
	return &Config{
		DeviceID:       "kobo",
		Host:           "192.168.2.2",
		Port:           22,
		Username:       "root",
		ConnectTimeout: "10s",
		OutputMode:     "auto",
		PushDir:        "/mnt/onboard/.kobo",
		StartPath:      "/",
		LogCommand:     "logread -f",
		HeadBytes:      4096,
		Actions: []Action{
			{Name: "gammaray", Command: "source /env.sh && /usr/bin/gammaray -p $(pidof nickel) --inject-only", Capture: 4096},
			{Name: "usb-dialog", Command: "echo usb plug add > /tmp/nickel-hardware-status"},
			{Name: "reboot", Command: "reboot"},
		},
	}
}

// applyDefaults fills fields the file left empty.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.ConnectTimeout == "" {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.OutputMode == "" {
		c.OutputMode = d.OutputMode
	}
	if c.PushDir == "" {
		c.PushDir = d.PushDir
	}
	if c.StartPath == "" {
		c.StartPath = d.StartPath
	}
	if c.LogCommand == "" {
		c.LogCommand = d.LogCommand
	}
	if c.HeadBytes == 0 {
		c.HeadBytes = d.HeadBytes
	}
	if c.DeviceID == "" {
		c.DeviceID = c.Host
	}
}

// Timeout parses connect_timeout.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.ConnectTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func (c *Config) Output() transport.OutputMode {
	return transport.ParseOutputMode(c.OutputMode)
}

// LogSpec is the command tailed by `devlink logs`.
func (c *Config) LogSpec() transport.CommandSpec {
	return transport.CommandSpec{Argv: strings.Fields(c.LogCommand), Output: c.Output()}
}

// FindAction looks up a preset by name.
func (c *Config) FindAction(name string) (Action, bool) {
	for _, a := range c.Actions {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return Action{}, false
}

// Spec renders the action as a combined-output command line, passed to the
// remote shell unchanged.
func (a Action) Spec() transport.CommandSpec {
	return transport.CommandSpec{Argv: []string{a.Command}, Output: transport.OutputCombined}
}

// ValidateConfig collects every problem instead of stopping at the first.
func ValidateConfig(cfg *Config) error {
	var validationErrors []string

	if strings.TrimSpace(cfg.Host) == "" {
		validationErrors = append(validationErrors, "host cannot be empty")
	}
	if strings.TrimSpace(cfg.Username) == "" {
		validationErrors = append(validationErrors, "username cannot be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		validationErrors = append(validationErrors, "port must be a valid number between 1-65535")
	}
	if strings.TrimSpace(cfg.PrivateKey) == "" && cfg.Password == "" {
		validationErrors = append(validationErrors, "either private_key or password must be set")
	}
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		if _, err := os.Stat(cfg.PrivateKey); os.IsNotExist(err) {
			validationErrors = append(validationErrors, fmt.Sprintf("private key file does not exist: %s", cfg.PrivateKey))
		}
	}
	if strings.TrimSpace(cfg.KnownHosts) != "" {
		if _, err := os.Stat(cfg.KnownHosts); os.IsNotExist(err) {
			validationErrors = append(validationErrors, fmt.Sprintf("known_hosts file does not exist: %s", cfg.KnownHosts))
		}
	}
	if _, err := time.ParseDuration(cfg.ConnectTimeout); err != nil {
		validationErrors = append(validationErrors, fmt.Sprintf("connect_timeout is not a duration: %q", cfg.ConnectTimeout))
	}
	switch strings.ToLower(cfg.OutputMode) {
	case "auto", "split", "combined":
	default:
		validationErrors = append(validationErrors, fmt.Sprintf("output_mode must be auto, split or combined, got %q", cfg.OutputMode))
	}
	if !strings.HasPrefix(cfg.PushDir, "/") {
		validationErrors = append(validationErrors, "push_dir must be an absolute path")
	}
	if strings.TrimSpace(cfg.LogCommand) == "" {
		validationErrors = append(validationErrors, "log_command cannot be empty")
	}
	if cfg.HeadBytes < 0 {
		validationErrors = append(validationErrors, "head_bytes cannot be negative")
	}

	seen := map[string]bool{}
	for i, a := range cfg.Actions {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if name == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("action %d: name cannot be empty", i+1))
		} else if seen[name] {
			validationErrors = append(validationErrors, fmt.Sprintf("action %d: duplicate name %q", i+1, a.Name))
		}
		seen[name] = true
		if strings.TrimSpace(a.Command) == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("action %d: command cannot be empty", i+1))
		}
		if a.Capture < 0 {
			validationErrors = append(validationErrors, fmt.Sprintf("action %d: capture cannot be negative", i+1))
		}
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(validationErrors, "\n"))
	}
	return nil
}

var varRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate replaces ${NAME} using lookup. Unknown names are reported and
// left in place.
func interpolate(text string, lookup func(string) (string, bool)) (string, []string) {
	var missing []string
	out := varRe.ReplaceAllStringFunc(text, func(m string) string {
		name := varRe.FindStringSubmatch(m)[1]
		if v, ok := lookup(name); ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	return out, missing
}

// Load reads, interpolates, defaults and validates the config at path.
// Variables come from the OS environment first, then from a .env file next
// to the config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	lookup, err := newEnvLookup(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	text, missing := interpolate(string(data), lookup)
	if len(missing) > 0 {
		return nil, fmt.Errorf("undefined variables in %s: %s", filepath.Base(path), strings.Join(missing, ", "))
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	cfg.applyDefaults()
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAndValidateConfig loads devlink.yaml from the working directory or
// from $DEVLINK_CONFIG.
func LoadAndValidateConfig() (*Config, error) {
	if !ConfigExists() {
		return nil, errors.New("devlink.yaml not found. Please run 'devlink init' first")
	}
	return Load(GetConfigPath())
}

// Write stores cfg as YAML at path.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func ConfigExists() bool {
	_, err := os.Stat(GetConfigPath())
	return err == nil
}

func GetConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return ConfigFileName
}
