package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RELAYCORD_TOKEN", "")
	t.Setenv("RELAYCORD_API_BASE", "")
	t.Setenv("RELAYCORD_GATEWAY_URL", "")
}

func TestLoad_WritesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.HistoryPageSize != 50 || !cfg.Compress {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.InitialDelay() != time.Second || cfg.MaxDelay() != time.Minute || cfg.SendPer() != time.Minute {
		t.Errorf("unexpected durations %v %v %v", cfg.InitialDelay(), cfg.MaxDelay(), cfg.SendPer())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults were not written: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := &Config{
		DataDir:         "/tmp/test-data",
		LogLevel:        "debug",
		Token:           "token-round-trip",
		APIBase:         "https://chat.test/api/v9",
		GatewayURL:      "wss://gateway.chat.test",
		MaxInFlight:     4,
		HistoryPageSize: 25,
	}
	original.Reconnect.MaxAttempts = 9
	original.GatewaySendRate.Frames = 60

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.Token != original.Token {
		t.Errorf("Token mismatch: %v != %v", loaded.Token, original.Token)
	}
	if loaded.APIBase != original.APIBase || loaded.GatewayURL != original.GatewayURL {
		t.Errorf("endpoint mismatch: %v %v", loaded.APIBase, loaded.GatewayURL)
	}
	if loaded.Compress {
		t.Error("Compress=false from the file should win over the default")
	}
	if loaded.MaxInFlight != 4 || loaded.HistoryPageSize != 25 {
		t.Errorf("numeric mismatch: %d %d", loaded.MaxInFlight, loaded.HistoryPageSize)
	}
	if loaded.Reconnect.MaxAttempts != 9 || loaded.GatewaySendRate.Frames != 60 {
		t.Errorf("nested mismatch: %+v %+v", loaded.Reconnect, loaded.GatewaySendRate)
	}
}

func TestLoad_AcceptsComments(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	data := `{
  // personal account
  "token": "commented-token",
  /* local dev server */
  "api_base": "http://localhost:8080/api/v9",
  "reconnect": {"max_attempts": 2,},
}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Token != "commented-token" || cfg.APIBase != "http://localhost:8080/api/v9" || cfg.Reconnect.MaxAttempts != 2 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("absent keys should keep defaults, got log_level=%q", cfg.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{Token: "file-token", APIBase: "https://file.test"})
	t.Setenv("RELAYCORD_TOKEN", "env-token")
	t.Setenv("RELAYCORD_API_BASE", "")
	t.Setenv("RELAYCORD_GATEWAY_URL", "wss://env.test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Token != "env-token" {
		t.Errorf("expected env token, got %q", cfg.Token)
	}
	if cfg.APIBase != "https://file.test" {
		t.Errorf("empty env must not override, got %q", cfg.APIBase)
	}
	if cfg.GatewayURL != "wss://env.test" {
		t.Errorf("expected env gateway, got %q", cfg.GatewayURL)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := tempConfigPath(t)
	os.WriteFile(path, []byte(`{"token": `), 0600)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	if err := Save(path, &Config{LogLevel: "info"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify no temp file left behind
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.json")
	if err := Save(path, &Config{LogLevel: "warn"}); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}

func TestToMap(t *testing.T) {
	cfg := &Config{LogLevel: "debug", HistoryPageSize: 100}
	cfg.Reconnect.MaxDelayMs = 5000

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if m["log_level"] != "debug" {
		t.Errorf("expected log_level=debug, got %v", m["log_level"])
	}
	// JSON numbers are float64
	if m["history_page_size"] != float64(100) {
		t.Errorf("expected history_page_size=100, got %v", m["history_page_size"])
	}
	rc, ok := m["reconnect"].(map[string]any)
	if !ok {
		t.Fatalf("expected reconnect to be map, got %T", m["reconnect"])
	}
	if rc["max_delay_ms"] != float64(5000) {
		t.Errorf("expected reconnect.max_delay_ms=5000, got %v", rc["max_delay_ms"])
	}
}

func TestListValues(t *testing.T) {
	cfg := &Config{LogLevel: "info", Token: "secret-token-1234"}

	flat, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["token"] != "secret-token-1234" {
		t.Errorf("expected unmasked token, got %v", flat["token"])
	}
	if _, ok := flat["gateway_send_rate.per_seconds"]; !ok {
		t.Error("expected nested keys flattened")
	}

	flat, err = ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["token"] != "***1234" {
		t.Errorf("expected masked token=***1234, got %v", flat["token"])
	}
	if flat["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", flat["log_level"])
	}
}

func TestGetValue(t *testing.T) {
	path := tempConfigPath(t)
	cfg := &Config{LogLevel: "debug", MaxInFlight: 8}
	cfg.Reconnect.MaxAttempts = 3
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil || v != "debug" {
		t.Errorf("expected log_level=debug, got %v (%v)", v, err)
	}
	v, err = GetValue(path, "reconnect.max_attempts")
	if err != nil || v != float64(3) {
		t.Errorf("expected reconnect.max_attempts=3, got %v (%v)", v, err)
	}

	_, err = GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if expected := "unknown config key: nonexistent.key"; err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestGetValue_NewFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSetValue(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  any
	}{
		{"log_level", "debug", "debug"},
		{"max_in_flight", "16", float64(16)},
		{"compress", "false", false},
		{"reconnect.max_delay_ms", "2500", float64(2500)},
		{"custom.setting", "value", "value"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			path := tempConfigPath(t)
			cfg := &Config{APIBase: "https://chat.test", Compress: true}
			writeTestConfig(t, path, cfg)

			if err := SetValue(path, tt.key, tt.value); err != nil {
				t.Fatalf("SetValue failed: %v", err)
			}
			v, err := GetValue(path, tt.key)
			if err != nil {
				t.Fatalf("GetValue failed: %v", err)
			}
			if v != tt.want {
				t.Errorf("expected %s=%v, got %v (%T)", tt.key, tt.want, v, v)
			}
			// Other values are preserved.
			if v, _ := GetValue(path, "api_base"); v != "https://chat.test" {
				t.Errorf("expected api_base preserved, got %v", v)
			}
		})
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}
