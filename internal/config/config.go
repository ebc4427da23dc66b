package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
)

type Config struct {
	DataDir         string `json:"data_dir"`
	LogLevel        string `json:"log_level"`
	Token           string `json:"token"`
	APIBase         string `json:"api_base"`
	GatewayURL      string `json:"gateway_url"`
	Compress        bool   `json:"compress"`
	MaxInFlight     int    `json:"max_in_flight"`
	HistoryPageSize int    `json:"history_page_size"`
	UserAgent       string `json:"user_agent"`
	Reconnect       struct {
		MaxAttempts    int `json:"max_attempts"`
		InitialDelayMs int `json:"initial_delay_ms"`
		MaxDelayMs     int `json:"max_delay_ms"`
	} `json:"reconnect"`
	GatewaySendRate struct {
		Frames     int `json:"frames"`
		PerSeconds int `json:"per_seconds"`
	} `json:"gateway_send_rate"`
}

// DefaultPath returns ~/.relaycord/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".relaycord", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:         filepath.Join(os.Getenv("HOME"), ".relaycord"),
		LogLevel:        "info",
		APIBase:         "https://discord.com/api/v9",
		GatewayURL:      "wss://gateway.discord.gg",
		Compress:        true,
		MaxInFlight:     8,
		HistoryPageSize: 50,
		UserAgent:       "relaycord/0.1",
	}
	cfg.Reconnect.MaxAttempts = 5
	cfg.Reconnect.InitialDelayMs = 1000
	cfg.Reconnect.MaxDelayMs = 60000
	cfg.GatewaySendRate.Frames = 120
	cfg.GatewaySendRate.PerSeconds = 60
	return cfg
}

// Load reads the config at path over the defaults. The file may carry
// comments. A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if token := os.Getenv("RELAYCORD_TOKEN"); token != "" {
		cfg.Token = token
	}
	if base := os.Getenv("RELAYCORD_API_BASE"); base != "" {
		cfg.APIBase = base
	}
	if gw := os.Getenv("RELAYCORD_GATEWAY_URL"); gw != "" {
		cfg.GatewayURL = gw
	}

	return cfg, nil
}

// InitialDelay and MaxDelay convert the reconnect backoff bounds.
func (c *Config) InitialDelay() time.Duration {
	return time.Duration(c.Reconnect.InitialDelayMs) * time.Millisecond
}

func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Reconnect.MaxDelayMs) * time.Millisecond
}

// SendPer is the window of the outbound gateway frame budget.
func (c *Config) SendPer() time.Duration {
	return time.Duration(c.GatewaySendRate.PerSeconds) * time.Second
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its generic JSON shape.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting keyed by dot path, with secrets masked
// when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := make(map[string]any)
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored in the file under a dot-separated key.
// Keys the Config struct does not know are readable too.
func GetValue(path, key string) (any, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, err := Load(path); err != nil {
			return nil, err
		}
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under key in an existing config file. value is
// parsed as JSON when possible (numbers, booleans) and kept as a string
// otherwise. Comments in the file are not preserved.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	flat := Flatten(m)
	flat[key] = v
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}
