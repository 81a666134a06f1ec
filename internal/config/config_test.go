package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigHasSensibleIntervals(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Exchange.Interval != 900*time.Second {
		t.Fatalf("got exchange interval %v, want 900s", cfg.Exchange.Interval)
	}
	if cfg.Exchange.UrgentInterval != 60*time.Second {
		t.Fatalf("got urgent interval %v, want 60s", cfg.Exchange.UrgentInterval)
	}
	if cfg.Ping.Interval != 30*time.Second {
		t.Fatalf("got ping interval %v, want 30s", cfg.Ping.Interval)
	}
}

func TestResolvePathsDerivesFromDataPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataPath = "/tmp/courier-test"
	cfg.ResolvePaths()
	if cfg.Storage.MessageStorePath != filepath.Join("/tmp/courier-test", "messages") {
		t.Fatalf("got message store path %q", cfg.Storage.MessageStorePath)
	}
	if cfg.Storage.ExchangeStorePath != filepath.Join("/tmp/courier-test", "exchange.db") {
		t.Fatalf("got exchange store path %q", cfg.Storage.ExchangeStorePath)
	}
}

func TestLoadFromFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"registration":{"account_name":"acme"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Registration.AccountName != "acme" {
		t.Fatalf("got account name %q, want acme", cfg.Registration.AccountName)
	}
	if cfg.Exchange.Interval != 900*time.Second {
		t.Fatalf("expected default exchange interval to survive file overlay, got %v", cfg.Exchange.Interval)
	}
}

func TestLoadFromYAMLFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "courier.yaml")
	contents := "registration:\n  account_name: acme\nexchange:\n  url: https://landscape.example.com/message-system\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Registration.AccountName != "acme" {
		t.Fatalf("got account name %q, want acme", cfg.Registration.AccountName)
	}
	if cfg.Exchange.URL != "https://landscape.example.com/message-system" {
		t.Fatalf("got exchange url %q", cfg.Exchange.URL)
	}
	if cfg.Exchange.UrgentInterval != 60*time.Second {
		t.Fatalf("expected default urgent interval to survive yaml overlay, got %v", cfg.Exchange.UrgentInterval)
	}
}

func TestLoadFromEnvOverridesConfig(t *testing.T) {
	t.Setenv("COURIER_EXCHANGE_URL", "https://landscape.example.com/message-system")
	t.Setenv("COURIER_EXCHANGE_INTERVAL", "10m")
	t.Setenv("COURIER_ACCOUNT_NAME", "standalone")
	t.Setenv("COURIER_DATA_PATH", "/data/courier")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Exchange.URL != "https://landscape.example.com/message-system" {
		t.Fatalf("got exchange url %q", cfg.Exchange.URL)
	}
	if cfg.Exchange.Interval != 10*time.Minute {
		t.Fatalf("got exchange interval %v, want 10m", cfg.Exchange.Interval)
	}
	if cfg.Registration.AccountName != "standalone" {
		t.Fatalf("got account name %q, want standalone", cfg.Registration.AccountName)
	}
	if cfg.Storage.MessageStorePath != filepath.Join("/data/courier", "messages") {
		t.Fatalf("got message store path %q", cfg.Storage.MessageStorePath)
	}
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "false": false, "0": false, "": false}
	for in, want := range cases {
		if got := parseBool(in); got != want {
			t.Fatalf("parseBool(%q) = %v, want %v", in, got, want)
		}
	}
}
