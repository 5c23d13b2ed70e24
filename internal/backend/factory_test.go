package backend

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"billing/internal/config"
)

func quietFactory() Factory {
	return NewFactory(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("memory without snapshot", func(t *testing.T) {
		res, err := quietFactory().CreateBackend(ctx, Config{Type: MemoryBackend})
		if err != nil {
			t.Fatal(err)
		}
		defer res.Cleanup()
		if err := res.Store.Ping(ctx); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		res, err := quietFactory().CreateBackend(ctx, Config{
			Type:         SQLiteBackend,
			SQLiteDBPath: filepath.Join(t.TempDir(), "billing.db"),
		})
		if err != nil {
			t.Fatal(err)
		}
		defer res.Cleanup()
		if err := res.Store.Ping(ctx); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("missing snapshot file", func(t *testing.T) {
		_, err := quietFactory().CreateBackend(ctx, Config{Type: MemoryBackend, SnapshotPath: "/nope.yaml"})
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		_, err := quietFactory().CreateBackend(ctx, Config{Type: PostgresBackend})
		if err == nil || !strings.Contains(err.Error(), "DSN") {
			t.Fatalf("expected DSN error, got %v", err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := quietFactory().CreateBackend(ctx, Config{Type: "sheets"}); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestFromAppConfig(t *testing.T) {
	app := config.Defaults()
	app.DataBackend = "postgres"
	app.PostgresDSN = "postgres://localhost/billing"

	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Type != PostgresBackend || cfg.PostgresDSN != app.PostgresDSN {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	app.DataBackend = "sheets"
	if _, err := FromAppConfig(app); err == nil {
		t.Fatal("expected invalid backend error")
	}
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected nil config error")
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	got := strings.Join(GetBackendTypeStrings(), ",")
	if got != "memory,sqlite,postgres" {
		t.Fatalf("got %s", got)
	}
}
