package testing

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"nerfbot-server-go/internal/platform/config"
	"nerfbot-server-go/internal/platform/logging"
	"nerfbot-server-go/internal/platform/storage"
)

var dbSeq atomic.Int64

// SetupTestConfig returns defaults with the log directory redirected to a
// temp dir and fast watchdog/device timings.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Token = "test-token"
	cfg.Log.Level = "DEBUG"
	cfg.Log.Dir = t.TempDir()
	cfg.Log.File = "test.log"
	cfg.Ledger.Driver = "memory"
	cfg.Device.PollInterval = 5 * time.Millisecond
	cfg.Device.AwaitTimeout = time.Second
	cfg.Watchdog.Interval = 10 * time.Millisecond
	return cfg
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// SetupTestLogger routes console output through t.Log and drops JSON output.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.NewWriter("debug", discard{}, testWriter{t: t})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// NewTestDB opens a private in-memory SQLite database with migrations applied.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:test-%d-%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := storage.Open(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close(db) })
	return db
}
