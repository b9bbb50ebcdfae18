package memory

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/insightd/internal/memory"

var validSessionID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// Bank is a handle on the memory bank directory. A writer handle owns the
// lock file and may commit; read-only handles only observe.
type Bank struct {
	root     string
	cfg      config.MemoryConfig
	logger   *logging.Logger
	readOnly bool

	mu     sync.RWMutex
	lockF  *os.File
	closed bool

	commitsTotal     metric.Int64Counter
	retrievalsTotal  metric.Int64Counter
	quarantinedTotal metric.Int64Counter
}

// Open acquires the bank for read-write use, creating the directory
// layout if needed. It fails with ErrLocked while another live process
// holds the writer lock.
func Open(cfg config.MemoryConfig, logger *logging.Logger) (*Bank, error) {
	b, err := newBank(cfg, logger, false)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{b.root, b.sessionsDir(), b.quarantineDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create memory dir %s: %w", dir, err)
		}
	}

	lockF, err := acquireLock(b.lockPath())
	if err != nil {
		return nil, err
	}
	b.lockF = lockF

	b.logger.Info(context.Background(), "memory bank opened",
		zap.String("root", b.root),
		zap.Bool("read_only", false))
	return b, nil
}

// OpenRead returns a read-only handle. It takes no lock and tolerates a
// bank directory that does not exist yet.
func OpenRead(cfg config.MemoryConfig, logger *logging.Logger) (*Bank, error) {
	return newBank(cfg, logger, true)
}

func newBank(cfg config.MemoryConfig, logger *logging.Logger, readOnly bool) (*Bank, error) {
	if cfg.Root == "" {
		return nil, errors.New("memory root is empty")
	}
	root, err := filepath.Abs(filepath.Clean(cfg.Root))
	if err != nil {
		return nil, fmt.Errorf("resolve memory root: %w", err)
	}
	if strings.Contains(root, "..") {
		return nil, fmt.Errorf("memory root %s contains directory traversal", cfg.Root)
	}
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}

	b := &Bank{
		root:     root,
		cfg:      cfg,
		logger:   logger.Named("memory"),
		readOnly: readOnly,
	}
	b.initMetrics()
	return b, nil
}

func (b *Bank) initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	b.commitsTotal, err = meter.Int64Counter("insightd_memory_commits_total",
		metric.WithDescription("Session commits applied to the memory bank"))
	if err != nil {
		b.logger.Warn(context.Background(), "create commit counter failed", zap.Error(err))
	}
	b.retrievalsTotal, err = meter.Int64Counter("insightd_memory_retrievals_total",
		metric.WithDescription("Context retrieval queries served"))
	if err != nil {
		b.logger.Warn(context.Background(), "create retrieval counter failed", zap.Error(err))
	}
	b.quarantinedTotal, err = meter.Int64Counter("insightd_memory_quarantined_total",
		metric.WithDescription("Malformed records moved to quarantine"))
	if err != nil {
		b.logger.Warn(context.Background(), "create quarantine counter failed", zap.Error(err))
	}
}

// Root returns the resolved bank directory.
func (b *Bank) Root() string { return b.root }

// ReadOnly reports whether this handle may commit.
func (b *Bank) ReadOnly() bool { return b.readOnly }

// Close releases the writer lock. Read-only handles close without effect.
func (b *Bank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.lockF != nil {
		name := b.lockF.Name()
		if err := b.lockF.Close(); err != nil {
			return fmt.Errorf("close lock file: %w", err)
		}
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove lock file: %w", err)
		}
		b.lockF = nil
	}
	return nil
}

func (b *Bank) sessionsDir() string   { return filepath.Join(b.root, "sessions") }
func (b *Bank) quarantineDir() string { return filepath.Join(b.root, "quarantine") }
func (b *Bank) patternsPath() string  { return filepath.Join(b.root, "patterns.json") }
func (b *Bank) logPath() string       { return filepath.Join(b.root, "insights.ndjson") }
func (b *Bank) lockPath() string      { return filepath.Join(b.root, ".lock") }

func (b *Bank) sessionPath(id string) (string, error) {
	if !validSessionID.MatchString(id) {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(b.sessionsDir(), id+".json"), nil
}

// listSessionPaths returns the session record paths sorted by id, which
// for time-ordered ids is commit order.
func (b *Bank) listSessionPaths() ([]string, error) {
	entries, err := os.ReadDir(b.sessionsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(b.sessionsDir(), e.Name()))
	}
	return paths, nil
}

// loadRecord decodes one session record, enforcing the version envelope.
func loadRecord(path string) (*sessionRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported record version %d", rec.Version)
	}
	if rec.Session == nil || rec.Session.ID == "" {
		return nil, errors.New("record has no session")
	}
	if want := strings.TrimSuffix(filepath.Base(path), ".json"); rec.Session.ID != want {
		return nil, fmt.Errorf("record id %q does not match file %q", rec.Session.ID, want)
	}
	return &rec, nil
}

// quarantine moves a malformed record aside so it cannot poison reads.
// Losing a race to another reader doing the same is fine.
func (b *Bank) quarantine(ctx context.Context, path string, cause error) {
	dst := filepath.Join(b.quarantineDir(), fmt.Sprintf("%s.%d", filepath.Base(path), time.Now().UnixNano()))
	if err := os.MkdirAll(b.quarantineDir(), 0o700); err != nil {
		b.logger.Warn(ctx, "quarantine dir unavailable", zap.Error(err))
		return
	}
	if err := os.Rename(path, dst); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			b.logger.Warn(ctx, "quarantine move failed",
				zap.String("record", path),
				zap.Error(err))
		}
		return
	}
	if b.quarantinedTotal != nil {
		b.quarantinedTotal.Add(ctx, 1)
	}
	b.logger.Warn(ctx, "quarantined malformed record",
		zap.String("record", filepath.Base(path)),
		zap.String("quarantine", dst),
		zap.Error(cause))
}

// writeFileAtomic writes via a same-directory temp file, fsyncs, and
// renames into place. The directory is synced best-effort so the rename
// survives a crash.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dir.Sync()
		dir.Close()
	}
	return nil
}

func randomSuffix() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return fmt.Sprintf("%x", buf)
}

// acquireLock takes the writer lock file, stealing it from a dead owner.
func acquireLock(path string) (*os.File, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			if syncErr := f.Sync(); syncErr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("sync lock file: %w", syncErr)
			}
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("%w: unreadable lock file", ErrLocked)
		}
		pid, _ := strconv.Atoi(strings.TrimSpace(string(raw)))
		if pid > 0 && processAlive(pid) {
			return nil, fmt.Errorf("%w: held by pid %d", ErrLocked, pid)
		}
		// Stale lock from a dead process.
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, ErrLocked
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
