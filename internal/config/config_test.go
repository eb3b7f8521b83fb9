package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME at a temp dir and clears every variable Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"GROUPFORGE_CONFIG", "GROUPFORGE_HOME", "GROUPFORGE_ENV_FILE",
		"GROUPFORGE_PATHS_DATA_DIR", "GROUPFORGE_GATEWAY_PORT", "GROUPFORGE_GATEWAY_TOKENS",
		"GROUPFORGE_THROTTLE_MIN_DELAY", "GROUPFORGE_WHATSAPP_OWNERS",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return home
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Throttle.MinDelay != 10*time.Second || cfg.Throttle.MaxDelay != 20*time.Second {
		t.Errorf("throttle = %+v", cfg.Throttle)
	}
	if cfg.WhatsApp.DefaultCountryCode != "91" {
		t.Errorf("country code = %q", cfg.WhatsApp.DefaultCountryCode)
	}
	if cfg.Gateway.Addr() != "127.0.0.1:18810" {
		t.Errorf("addr = %q", cfg.Gateway.Addr())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfigPathRespectsConfigAndHome(t *testing.T) {
	isolate(t)
	t.Setenv("GROUPFORGE_HOME", "/srv/gf")
	t.Setenv("GROUPFORGE_CONFIG", "~/.groupforge/custom.json")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join("/srv/gf", ".groupforge", "custom.json") {
		t.Fatalf("unexpected config path: %q", path)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	file := `{"paths":{"dataDir":"~/gf-data"},"gateway":{"port":20000,"tokens":{"file-token":"bob"}},"whatsapp":{"owners":["bob"]}}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(file), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GROUPFORGE_GATEWAY_PORT", "19999")
	t.Setenv("GROUPFORGE_THROTTLE_MIN_DELAY", "5s")
	t.Setenv("GROUPFORGE_WHATSAPP_OWNERS", "alice,bob")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Port != 19999 {
		t.Errorf("port = %d, env should win", cfg.Gateway.Port)
	}
	if cfg.Gateway.Tokens["file-token"] != "bob" {
		t.Errorf("tokens = %v", cfg.Gateway.Tokens)
	}
	if cfg.Throttle.MinDelay != 5*time.Second || cfg.Throttle.MaxDelay != 20*time.Second {
		t.Errorf("throttle = %+v", cfg.Throttle)
	}
	if len(cfg.WhatsApp.Owners) != 2 || cfg.WhatsApp.Owners[0] != "alice" {
		t.Errorf("owners = %v", cfg.WhatsApp.Owners)
	}
	if cfg.Paths.DataDir != filepath.Join(home, "gf-data") {
		t.Errorf("data dir = %q", cfg.Paths.DataDir)
	}
	if !strings.HasSuffix(cfg.Paths.LedgerPath(), filepath.Join("gf-data", "ledger.db")) {
		t.Errorf("ledger path = %q", cfg.Paths.LedgerPath())
	}
}

func TestLoadUsesEnvFileCandidate(t *testing.T) {
	home := isolate(t)
	envDir := filepath.Join(home, ".config", "groupforge")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "GROUPFORGE_GATEWAY_PORT=19111\nexport GROUPFORGE_GATEWAY_TOKENS=\"t1:alice\"\n"
	if err := os.WriteFile(filepath.Join(envDir, "env"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Port != 19111 {
		t.Errorf("port = %d, want value from env file", cfg.Gateway.Port)
	}
	if cfg.Gateway.Tokens["t1"] != "alice" {
		t.Errorf("tokens = %v", cfg.Gateway.Tokens)
	}
}

func TestEnvFileDoesNotOverrideProcessEnv(t *testing.T) {
	home := isolate(t)
	envFile := filepath.Join(home, "custom.env")
	if err := os.WriteFile(envFile, []byte("GROUPFORGE_GATEWAY_PORT=1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GROUPFORGE_ENV_FILE", envFile)
	t.Setenv("GROUPFORGE_GATEWAY_PORT", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 2 {
		t.Fatalf("port = %d, process env must win", cfg.Gateway.Port)
	}
}

func TestSaveWritesLoadableFile(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()
	cfg.Gateway.Tokens["abc"] = "alice"
	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Gateway.Tokens["abc"] != "alice" || loaded.Throttle.PromoteDelay != 2*time.Second {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Throttle.MinDelay = 30 * time.Second
	cfg.Gateway.Tokens["t"] = "../bad"
	cfg.Events.SlackToken = "xoxb"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"throttle", "invalid owner", "slackChannel"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestEventsBrokers(t *testing.T) {
	e := EventsConfig{KafkaBrokers: " a:9092, ,b:9092"}
	got := e.Brokers()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("Brokers() = %v", got)
	}
}
