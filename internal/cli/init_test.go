package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"billing/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_BACKEND", "memory")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %s", cfg.Port)
	}

	t.Setenv("PORT", "not-a-port")
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "invalid port") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSetupLogger(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger, err := SetupLogger(cfg, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output = %s", out)
	}

	cfg.LogLevel = "loud"
	if _, err := SetupLogger(cfg, &buf); err == nil {
		t.Error("expected error for an unknown level")
	}
}

func TestOpenStore(t *testing.T) {
	cfg := config.Defaults()
	logger, err := SetupLogger(cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := OpenStore(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer res.Cleanup()
	if err := res.Store.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg.DataBackend = "mongo"
	if _, err := OpenStore(context.Background(), cfg, logger); err == nil {
		t.Error("expected error for an unknown backend")
	}
}
