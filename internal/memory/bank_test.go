package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/session"
)

func testConfig(t *testing.T) config.MemoryConfig {
	t.Helper()
	return config.MemoryConfig{
		Root:                filepath.Join(t.TempDir(), "bank"),
		SimilarityThreshold: 0.3,
		TypeWeight:          0.25,
		RetrievalLimit:      5,
		DecayHalfLife:       config.Duration(720 * time.Hour),
		PatternMinSupport:   2,
	}
}

func openTestBank(t *testing.T, cfg config.MemoryConfig) *Bank {
	t.Helper()
	bank, err := Open(cfg, logging.NewTestLogger(t).Logger)
	require.NoError(t, err)
	t.Cleanup(func() { bank.Close() })
	return bank
}

func salesSchema() dataset.Schema {
	return dataset.Schema{Columns: []dataset.ColumnSchema{
		{Name: "date", Type: dataset.TypeTemporal},
		{Name: "revenue", Type: dataset.TypeNumeric},
		{Name: "units", Type: dataset.TypeNumeric},
		{Name: "region", Type: dataset.TypeCategorical},
	}}
}

func testSession(id string) *session.Session {
	sess := session.New(id, "sales", "testdata/sales.csv")
	sess.Schema = salesSchema()
	sess.Rows = 42

	ins := insight.New("revenue and units move together (r=0.92)", 0.92,
		insight.SourceStatistical, insight.CategoryCorrelation)
	ins.PatternKey = "correlation:revenue~units"
	sess.Insights = []insight.Insight{ins}
	return sess
}

func TestOpenCreatesLayout(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	bank := openTestBank(t, cfg)

	for _, dir := range []string{bank.Root(), bank.sessionsDir(), bank.quarantineDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	_, err := os.Stat(bank.lockPath())
	assert.NoError(t, err)
	assert.False(t, bank.ReadOnly())
}

func TestOpenSecondWriterLocked(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	openTestBank(t, cfg)

	_, err := Open(cfg, logging.NewTestLogger(t).Logger)
	require.ErrorIs(t, err, ErrLocked)
}

func TestCloseReleasesLock(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	bank, err := Open(cfg, logging.NewTestLogger(t).Logger)
	require.NoError(t, err)
	require.NoError(t, bank.Close())
	require.NoError(t, bank.Close())

	_, err = os.Stat(filepath.Join(cfg.Root, ".lock"))
	assert.True(t, os.IsNotExist(err))

	reopened, err := Open(cfg, logging.NewTestLogger(t).Logger)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestOpenStealsStaleLock(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Root, 0o700))
	// A pid above the kernel maximum cannot belong to a live process.
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, ".lock"), []byte("99999999\n"), 0o600))

	bank := openTestBank(t, cfg)
	assert.False(t, bank.ReadOnly())
}

func TestOpenRespectsLiveLock(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Root, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, ".lock"),
		[]byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600))

	_, err := Open(cfg, logging.NewTestLogger(t).Logger)
	require.ErrorIs(t, err, ErrLocked)
}

func TestOpenReadMissingBank(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	bank, err := OpenRead(cfg, logging.NewTestLogger(t).Logger)
	require.NoError(t, err)
	assert.True(t, bank.ReadOnly())

	sessions, err := bank.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)

	matches, err := bank.RetrieveContext(context.Background(), salesSchema(), RetrieveOptions{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOpenReadCannotCommit(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	bank, err := OpenRead(cfg, logging.NewTestLogger(t).Logger)
	require.NoError(t, err)

	err = bank.Commit(context.Background(), testSession("0198aaaa-0000-7000-8000-000000000001"))
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestOpenRejectsEmptyRoot(t *testing.T) {
	t.Parallel()

	_, err := Open(config.MemoryConfig{}, logging.NewTestLogger(t).Logger)
	require.Error(t, err)
}

func TestSessionPathRejectsTraversal(t *testing.T) {
	t.Parallel()

	bank := openTestBank(t, testConfig(t))

	for _, id := range []string{"../evil", "a/b", "", "id with spaces", "x\x00y"} {
		_, err := bank.sessionPath(id)
		assert.Error(t, err, "id %q", id)
	}

	path, err := bank.sessionPath("0198aaaa-0000-7000-8000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(bank.sessionsDir(), "0198aaaa-0000-7000-8000-000000000001.json"), path)
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	require.NoError(t, writeFileAtomic(path, []byte(`{"a":1}`)))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(raw))

	// Overwrite replaces content and leaves no temp files behind.
	require.NoError(t, writeFileAtomic(path, []byte(`{"a":2}`)))
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(raw))

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp.*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestQuarantineMalformedRecord(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	bank := openTestBank(t, cfg)
	require.NoError(t, bank.Commit(context.Background(), testSession("0198aaaa-0000-7000-8000-000000000001")))

	corrupt := filepath.Join(bank.sessionsDir(), "0198aaaa-0000-7000-8000-000000000002.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o600))

	sessions, err := bank.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "0198aaaa-0000-7000-8000-000000000001", sessions[0].ID)

	_, err = os.Stat(corrupt)
	assert.True(t, os.IsNotExist(err))

	moved, err := filepath.Glob(filepath.Join(bank.quarantineDir(), "0198aaaa-0000-7000-8000-000000000002.json.*"))
	require.NoError(t, err)
	assert.Len(t, moved, 1)
}

func TestQuarantineVersionMismatch(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	bank := openTestBank(t, cfg)

	stale := filepath.Join(bank.sessionsDir(), "0198aaaa-0000-7000-8000-000000000003.json")
	body := `{"version":99,"saved_at":"2026-01-01T00:00:00Z","session":{"id":"0198aaaa-0000-7000-8000-000000000003"}}`
	require.NoError(t, os.WriteFile(stale, []byte(body), 0o600))

	sessions, err := bank.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)

	moved, err := filepath.Glob(filepath.Join(bank.quarantineDir(), "*"))
	require.NoError(t, err)
	assert.Len(t, moved, 1)
}
