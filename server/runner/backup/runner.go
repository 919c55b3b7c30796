// Package backup snapshots each user's stored record into date-partitioned
// archives and restores them on request.
package backup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/errcode"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store/cache"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store/db/file"
)

const (
	dateLayout    = "2006-01-02"
	archiveSuffix = ".json"
)

// Metrics receives backup events.
type Metrics interface {
	RecordBackup(success bool)
	RecordBackupRun(d time.Duration)
}

// Config configures the runner.
type Config struct {
	// Dir is the root of the date directories.
	Dir           string
	Interval      time.Duration
	RetentionDays int
	// Parallelism bounds concurrent user snapshots in BackupAll.
	Parallelism int
	Now         func() time.Time
}

// Archive is one stored snapshot of a user.
type Archive struct {
	Date string `json:"date"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type Runner struct {
	store   *store.Store
	cache   *cache.Manager
	config  Config
	metrics Metrics
}

// NewRunner creates a backup runner. metrics may be nil.
func NewRunner(st *store.Store, cacheManager *cache.Manager, config Config, metrics Metrics) *Runner {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 14
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Runner{
		store:   st,
		cache:   cacheManager,
		config:  config,
		metrics: metrics,
	}
}

// Run backs everything up once when today's directory is missing, then on
// every interval until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	if _, err := os.Stat(r.dayDir(r.today())); errors.Is(err, os.ErrNotExist) {
		r.RunOnce(ctx)
	}

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			slog.Info("backup runner stopped")
			return
		}
	}
}

// RunOnce backs up every user and prunes old archives.
func (r *Runner) RunOnce(ctx context.Context) {
	archives, err := r.BackupAll(ctx)
	if err != nil {
		slog.Error("backup run failed", "error", err, "archives", len(archives))
		return
	}
	slog.Info("backup run finished", "archives", len(archives))
}

// BackupUser snapshots userID's record while holding the user's lock and
// returns the archive path.
func (r *Runner) BackupUser(ctx context.Context, userID string) (string, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return "", errcode.InvalidArgument("%v", err)
	}

	path := filepath.Join(r.dayDir(r.today()), userID+archiveSuffix)
	err := r.cache.WithUserLocked(ctx, userID, func(ctx context.Context) error {
		data, err := r.store.ExportUserRecord(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return errcode.NotFound("no memories stored for " + userID)
		}
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
			return errors.Wrap(err, "failed to create backup directory")
		}
		return file.WriteFileAtomic(path, data)
	})
	if r.metrics != nil {
		r.metrics.RecordBackup(err == nil)
	}
	if err != nil {
		if errcode.IsCode(err, errcode.CodeNotFound) {
			return "", err
		}
		return "", errcode.Storage("backup failed", err)
	}
	slog.Debug("user backed up", "user_id", userID, "path", path)
	return path, nil
}

// BackupAll snapshots every stored user with bounded parallelism, then prunes
// expired archives. A failing user does not stop the others; the returned
// error reports how many failed.
func (r *Runner) BackupAll(ctx context.Context) ([]string, error) {
	start := r.config.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordBackupRun(r.config.Now().Sub(start))
		}
	}()

	users, err := r.store.ListUserIDs(ctx)
	if err != nil {
		return nil, errcode.Storage("failed to list users", err)
	}

	var (
		mu       sync.Mutex
		archives = make([]string, 0, len(users))
		failed   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Parallelism)
	for _, userID := range users {
		g.Go(func() error {
			path, err := r.BackupUser(gctx, userID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				slog.Warn("user backup failed", "user_id", userID, "error", err)
				return nil
			}
			archives = append(archives, path)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(archives)

	if _, err := r.Prune(r.config.Now()); err != nil {
		slog.Warn("backup prune failed", "error", err)
	}
	if failed > 0 {
		return archives, errcode.Storage("backup incomplete", errors.Errorf("%d of %d users failed", failed, len(users)))
	}
	return archives, nil
}

// Prune removes date directories older than the retention window and
// returns how many were removed.
func (r *Runner) Prune(now time.Time) (int, error) {
	entries, err := os.ReadDir(r.config.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to read backup directory")
	}

	today, _ := time.Parse(dateLayout, now.UTC().Format(dateLayout))
	cutoff := today.AddDate(0, 0, -r.config.RetentionDays)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.Parse(dateLayout, entry.Name())
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.config.Dir, entry.Name())); err != nil {
			return removed, errors.Wrapf(err, "failed to remove %s", entry.Name())
		}
		removed++
	}
	if removed > 0 {
		slog.Info("old backups pruned", "directories", removed)
	}
	return removed, nil
}

// ListArchives returns userID's archives, newest first.
func (r *Runner) ListArchives(userID string) ([]Archive, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return nil, errcode.InvalidArgument("%v", err)
	}
	entries, err := os.ReadDir(r.config.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Archive{}, nil
	}
	if err != nil {
		return nil, errcode.Storage("failed to read backup directory", err)
	}

	archives := []Archive{}
	for _, entry := range entries {
		if _, err := time.Parse(dateLayout, entry.Name()); err != nil || !entry.IsDir() {
			continue
		}
		path := filepath.Join(r.config.Dir, entry.Name(), userID+archiveSuffix)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		archives = append(archives, Archive{Date: entry.Name(), Path: path, Size: info.Size()})
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Date > archives[j].Date
	})
	return archives, nil
}

// Restore replaces userID's record with the archive from date and drops the
// user's cache entry. It returns the number of restored items.
func (r *Runner) Restore(ctx context.Context, userID, date string) (int, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return 0, errcode.InvalidArgument("%v", err)
	}
	date = strings.TrimSpace(date)
	if _, err := time.Parse(dateLayout, date); err != nil {
		return 0, errcode.InvalidArgument("date must be YYYY-MM-DD, got %q", date)
	}

	data, err := os.ReadFile(filepath.Join(r.dayDir(date), userID+archiveSuffix))
	if errors.Is(err, os.ErrNotExist) {
		return 0, errcode.NotFound("no backup of " + userID + " on " + date)
	}
	if err != nil {
		return 0, errcode.Storage("failed to read backup", err)
	}
	if _, err := r.store.DecodeRecord(data); err != nil {
		return 0, errcode.InvalidArgument("backup of %s on %s is not a valid record: %v", userID, date, err)
	}

	var n int
	err = r.cache.Replace(ctx, userID, func(ctx context.Context) error {
		var err error
		n, err = r.store.ImportUserRecord(ctx, userID, data)
		return err
	})
	if err != nil {
		return 0, errcode.Storage("restore failed", err)
	}
	slog.Info("user restored from backup", "user_id", userID, "date", date, "items", n)
	return n, nil
}

func (r *Runner) today() string {
	return r.config.Now().UTC().Format(dateLayout)
}

func (r *Runner) dayDir(date string) string {
	return filepath.Join(r.config.Dir, date)
}
