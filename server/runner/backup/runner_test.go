package backup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/errcode"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/profile"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store/cache"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store/db/file"
)

type countingMetrics struct {
	mu      sync.Mutex
	ok, bad int
	runs    int
}

func (m *countingMetrics) RecordBackup(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.ok++
	} else {
		m.bad++
	}
}

func (m *countingMetrics) RecordBackupRun(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

type fixture struct {
	store   *store.Store
	cache   *cache.Manager
	runner  *Runner
	metrics *countingMetrics
	now     time.Time
}

func newFixture(t *testing.T, secretsKey string) *fixture {
	t.Helper()
	p := &profile.Profile{Data: t.TempDir(), SecretsKey: secretsKey}
	driver, err := file.NewDB(p)
	require.NoError(t, err)
	st, err := store.New(driver, p)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	f := &fixture{
		store:   st,
		cache:   cache.NewManager(st, cache.DefaultConfig()),
		metrics: &countingMetrics{},
		now:     time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC),
	}
	f.runner = NewRunner(st, f.cache, Config{
		Dir:           p.BackupDir(),
		RetentionDays: 14,
		Now:           func() time.Time { return f.now },
	}, f.metrics)
	return f
}

func (f *fixture) seed(t *testing.T, userID string, texts ...string) []*store.MemoryItem {
	t.Helper()
	created := f.now.Add(-time.Hour)
	items := make([]*store.MemoryItem, len(texts))
	for i, text := range texts {
		items[i] = &store.MemoryItem{
			ID: store.NewMemoryID(), UserID: userID, Text: text, Bank: store.BankGeneral,
			CreatedAt: created, LastAccessedAt: created,
		}
	}
	require.NoError(t, f.cache.Update(context.Background(), userID, func([]*store.MemoryItem) ([]*store.MemoryItem, bool, error) {
		return items, true, nil
	}))
	return items
}

func TestBackupUser_RoundTrip(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	want := f.seed(t, "u1", "I really love sushi", "My cat is called Mochi")

	path, err := f.runner.BackupUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.runner.config.Dir, "2026-01-31", "u1.json"), path)

	// Diverge after the snapshot.
	require.NoError(t, f.cache.Update(ctx, "u1", func(items []*store.MemoryItem) ([]*store.MemoryItem, bool, error) {
		return items[:1], true, nil
	}))

	n, err := f.runner.Restore(ctx, "u1", "2026-01-31")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, f.cache.IsCached("u1"), "restore invalidates the cache entry")

	got, err := f.cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Text, got[i].Text)
		assert.Equal(t, want[i].Bank, got[i].Bank)
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt))
	}
}

func TestBackupUser_SecretsStaySealed(t *testing.T) {
	f := newFixture(t, "correct horse battery staple")
	ctx := context.Background()
	require.NoError(t, f.cache.Update(ctx, "u1", func([]*store.MemoryItem) ([]*store.MemoryItem, bool, error) {
		return []*store.MemoryItem{{ID: "s1", UserID: "u1", Text: "my pin is 4711", Bank: store.BankSecrets, CreatedAt: f.now}}, true, nil
	}))

	path, err := f.runner.BackupUser(ctx, "u1")
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "4711")

	_, err = f.runner.Restore(ctx, "u1", "2026-01-31")
	require.NoError(t, err)
	got, err := f.cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "my pin is 4711", got[0].Text)
}

func TestBackupUser_Errors(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.runner.BackupUser(ctx, "nobody")
	assert.True(t, errcode.IsCode(err, errcode.CodeNotFound))
	_, err = f.runner.BackupUser(ctx, "../x")
	assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument))

	_, err = f.runner.Restore(ctx, "u1", "31.01.2026")
	assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument))
	_, err = f.runner.Restore(ctx, "u1", "2026-01-30")
	assert.True(t, errcode.IsCode(err, errcode.CodeNotFound))

	dir := filepath.Join(f.runner.config.Dir, "2026-01-29")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u1.json"), []byte("{not json"), 0o644))
	_, err = f.runner.Restore(ctx, "u1", "2026-01-29")
	assert.True(t, errcode.IsCode(err, errcode.CodeInvalidArgument))
}

func TestBackupAll(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c", "d", "e", "f"} {
		f.seed(t, u, "I really love sushi")
	}

	old := filepath.Join(f.runner.config.Dir, "2026-01-01")
	kept := filepath.Join(f.runner.config.Dir, "2026-01-17")
	require.NoError(t, os.MkdirAll(old, 0o755))
	require.NoError(t, os.MkdirAll(kept, 0o755))

	archives, err := f.runner.BackupAll(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 6)
	assert.Equal(t, filepath.Join(f.runner.config.Dir, "2026-01-31", "a.json"), archives[0])
	assert.Equal(t, 6, f.metrics.ok)
	assert.Equal(t, 1, f.metrics.runs)

	assert.NoDirExists(t, old)
	assert.DirExists(t, kept, "exactly at the retention edge")
}

func TestPrune(t *testing.T) {
	f := newFixture(t, "")
	n, err := f.runner.Prune(f.now)
	require.NoError(t, err)
	assert.Zero(t, n, "missing backup directory")

	for _, d := range []string{"2026-01-10", "2026-01-16", "2026-01-17", "2026-01-31", "notes"} {
		require.NoError(t, os.MkdirAll(filepath.Join(f.runner.config.Dir, d), 0o755))
	}
	n, err = f.runner.Prune(f.now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.DirExists(t, filepath.Join(f.runner.config.Dir, "notes"))
	assert.DirExists(t, filepath.Join(f.runner.config.Dir, "2026-01-17"))
}

func TestListArchives(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.seed(t, "u1", "I really love sushi")

	_, err := f.runner.BackupUser(ctx, "u1")
	require.NoError(t, err)
	f.now = f.now.AddDate(0, 0, 1)
	_, err = f.runner.BackupUser(ctx, "u1")
	require.NoError(t, err)

	archives, err := f.runner.ListArchives("u1")
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.Equal(t, "2026-02-01", archives[0].Date)
	assert.Equal(t, "2026-01-31", archives[1].Date)
	assert.Positive(t, archives[0].Size)

	none, err := f.runner.ListArchives("u2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, "u1", "I really love sushi")
	f.runner.config.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.runner.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(f.runner.config.Dir, "2026-01-31", "u1.json"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "first run happens at start")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
