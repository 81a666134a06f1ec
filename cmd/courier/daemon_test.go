package main

import (
	"path/filepath"
	"testing"

	"github.com/oriys/courier/internal/config"
)

func TestBuildAgentWiresComponents(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DataPath = dir
	cfg.ResolvePaths()
	cfg.Exchange.URL = "https://example.invalid/message-system"
	cfg.Ping.URL = "https://example.invalid/ping"
	cfg.Registration.ComputerTitle = "test-host"
	cfg.Registration.AccountName = "standalone"

	a, err := buildAgent(cfg)
	if err != nil {
		t.Fatalf("buildAgent: %v", err)
	}
	defer a.close()

	if a.messageStore == nil || a.exchangeStore == nil || a.exchanger == nil || a.pinger == nil || a.registrar == nil {
		t.Fatal("buildAgent left a component nil")
	}
	if a.registrar.ShouldRegister() {
		t.Fatal("expected ShouldRegister to be false until the server accepts the register message type")
	}
	if err := a.messageStore.SetAcceptedTypes([]string{"register"}); err != nil {
		t.Fatalf("SetAcceptedTypes: %v", err)
	}
	if !a.registrar.ShouldRegister() {
		t.Fatal("expected a fresh identity with account/title configured and register accepted to want registration")
	}
	wantExchangeDB := filepath.Join(dir, "exchange.db")
	if cfg.Storage.ExchangeStorePath != wantExchangeDB {
		t.Fatalf("got exchange store path %q, want %q", cfg.Storage.ExchangeStorePath, wantExchangeDB)
	}
}
