package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("CHECKER_KEY_HASHES", "h1,h2")
	t.Setenv("SWEEP_INTERVAL", "2s")

	c, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.APIAddr != ":9999" || c.SweepInterval != 2*time.Second {
		t.Fatalf("unexpected config %+v", c)
	}
	if len(c.CheckerKeyHashes) != 2 || c.CheckerKeyHashes[1] != "h2" {
		t.Fatalf("unexpected key hashes %v", c.CheckerKeyHashes)
	}
	if !c.EmbeddedSweeper || c.SweepBatch != 500 || c.MigrationsDir != "migrations" {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestParseRuntimeOverlaysDefaults(t *testing.T) {
	t.Parallel()
	r, err := ParseRuntime([]byte(`
batchSize: 10
checkClasses: [3, 4]
rateLimits:
  cardcheck: {enabled: false}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.BatchSize != 10 || r.LeaseTimeoutSeconds != DefaultRuntime().LeaseTimeoutSeconds {
		t.Fatalf("unexpected runtime %+v", r)
	}
	if !r.KnowsCheckClass(3) || r.KnowsCheckClass(1) {
		t.Fatalf("check classes not replaced: %v", r.CheckClasses)
	}
	if r.Limit("cardcheck").Enabled {
		t.Fatalf("cardcheck should be disabled")
	}
	if !r.Limit("api").Enabled {
		t.Fatalf("api limit should keep its default")
	}
}

func TestParseRuntimeRejectsInvalid(t *testing.T) {
	t.Parallel()
	tests := []string{
		"batchSize: -1",
		"leaseTimeoutSeconds: -5",
		"checkClasses: []",
		"rateLimits: {api: {enabled: true, windowMs: 0, max: 5}}",
		"batchSize: [",
	}
	for _, in := range tests {
		if _, err := ParseRuntime([]byte(in)); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestParseRuntimeMergesRateLimitFields(t *testing.T) {
	t.Parallel()
	r, err := ParseRuntime([]byte("rateLimits:\n  auth:\n    max: 5\n  partner:\n    windowMs: 1000\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def := DefaultRuntime().Limit("auth")
	want := Window{Enabled: true, WindowMs: def.WindowMs, Max: 5}
	if got := r.Limit("auth"); got != want {
		t.Fatalf("auth window = %+v, want %+v", got, want)
	}
	if got := r.Limit("partner"); got.Enabled || got.WindowMs != 1000 {
		t.Fatalf("class without a default should start disabled, got %+v", got)
	}
	if got := r.Limit("api"); got != DefaultRuntime().Limit("api") {
		t.Fatalf("untouched class changed: %+v", got)
	}
}

func TestFileProviderMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	p := FileProvider{Path: filepath.Join(t.TempDir(), "absent.yaml")}
	r, err := p.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if r.BatchSize != DefaultRuntime().BatchSize {
		t.Fatalf("expected defaults, got %+v", r)
	}
}

type flakyProvider struct {
	r   Runtime
	err error
}

func (f *flakyProvider) GetConfig(context.Context) (Runtime, error) { return f.r, f.err }

func TestWatcherKeepsLastGood(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	good := DefaultRuntime()
	good.BatchSize = 7
	p := &flakyProvider{r: good}
	w := NewWatcher(p, time.Hour, zap.NewNop())

	if err := w.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if w.Current().BatchSize != 7 {
		t.Fatalf("snapshot not applied")
	}

	p.err = errors.New("settings unavailable")
	if err := w.Refresh(ctx); err == nil {
		t.Fatalf("expected refresh error")
	}
	if w.Current().BatchSize != 7 {
		t.Fatalf("failed refresh must keep the last good snapshot")
	}
}

func TestWatcherReloadsFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "checkq.yaml")
	if err := os.WriteFile(path, []byte("batchSize: 5\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	w := NewWatcher(FileProvider{Path: path}, time.Hour, zap.NewNop())
	ctx := context.Background()
	if err := w.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if w.Current().BatchSize != 5 {
		t.Fatalf("got batch size %d", w.Current().BatchSize)
	}

	if err := os.WriteFile(path, []byte("batchSize: 25\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := w.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if w.Current().BatchSize != 25 {
		t.Fatalf("hot reload not applied, got %d", w.Current().BatchSize)
	}
}
