// Package cache keeps hot users' memory sets in RAM in front of the store.
//
// Item writes are write-through: Update persists before the new set becomes
// visible. Access-time bookkeeping is the only deferred state; it is flushed
// on eviction, before backups and on Close.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

// Persister is the durable side of the cache.
type Persister interface {
	LoadUserMemories(ctx context.Context, userID string) ([]*store.MemoryItem, error)
	SaveUserMemories(ctx context.Context, userID string, items []*store.MemoryItem) error
	DeleteUserMemories(ctx context.Context, userID string) error
}

// Observer receives cache events. All methods must be safe for concurrent use.
type Observer interface {
	CacheLookup(hit bool)
	CacheEvicted(users int)
	CacheUsers(n int)
}

// Config configures the cache manager.
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Observer      Observer
	// Now overrides the clock in tests.
	Now func() time.Time
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Mutation computes a user's next item list from a private snapshot.
// Returning changed=false leaves the store and the cache untouched.
type Mutation func(items []*store.MemoryItem) (next []*store.MemoryItem, changed bool, err error)

type workingSet struct {
	mu    sync.RWMutex
	items []*store.MemoryItem
	dirty bool
	// retired is set once the set left the cache; it must not be stamped.
	retired bool

	lastUsed atomic.Int64 // unix nanos
}

func (ws *workingSet) use(now time.Time) {
	ws.lastUsed.Store(now.UnixNano())
}

func (ws *workingSet) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, ws.lastUsed.Load()))
}

// Manager owns every cached working set. Mutations of one user are
// serialized by a per-user lock; different users never contend.
type Manager struct {
	persister Persister
	config    Config

	mu    sync.Mutex
	sets  map[string]*workingSet
	locks *keyedMutex
	loads singleflight.Group

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a cache manager over persister.
func NewManager(persister Persister, config Config) *Manager {
	defaults := DefaultConfig()
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Manager{
		persister: persister,
		config:    config,
		sets:      make(map[string]*workingSet),
		locks:     newKeyedMutex(),
	}
}

func (m *Manager) lookup(userID string) *workingSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[userID]
}

func (m *Manager) observeLookup(hit bool) {
	if m.config.Observer != nil {
		m.config.Observer.CacheLookup(hit)
	}
}

func (m *Manager) observeUsers() {
	if m.config.Observer == nil {
		return
	}
	m.mu.Lock()
	n := len(m.sets)
	m.mu.Unlock()
	m.config.Observer.CacheUsers(n)
}

// load returns userID's working set, reading the store on a miss.
// Concurrent misses for the same user share one read, which does not
// inherit the cancellation of whichever caller started it.
func (m *Manager) load(ctx context.Context, userID string) (*workingSet, error) {
	if ws := m.lookup(userID); ws != nil {
		ws.use(m.config.Now())
		m.observeLookup(true)
		return ws, nil
	}
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.loads.Do(userID, func() (any, error) {
		unlock := m.locks.Lock(userID)
		defer unlock()
		return m.loadLocked(shared, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*workingSet), nil
}

// loadLocked is load for callers already holding userID's lock.
func (m *Manager) loadLocked(ctx context.Context, userID string) (*workingSet, error) {
	if ws := m.lookup(userID); ws != nil {
		ws.use(m.config.Now())
		m.observeLookup(true)
		return ws, nil
	}
	m.observeLookup(false)

	items, err := m.persister.LoadUserMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	ws := &workingSet{items: items}
	ws.use(m.config.Now())

	m.mu.Lock()
	m.sets[userID] = ws
	m.mu.Unlock()
	m.observeUsers()
	return ws, nil
}

// Get returns a private copy of all of userID's items, expired ones included.
func (m *Manager) Get(ctx context.Context, userID string) ([]*store.MemoryItem, error) {
	ws, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return store.CloneItems(ws.items), nil
}

// Find applies find to the cached set, stamps last_accessed_at on the
// returned items and returns copies of them.
func (m *Manager) Find(ctx context.Context, find *store.FindMemoryItem) ([]*store.MemoryItem, error) {
	for {
		ws, err := m.load(ctx, find.UserID)
		if err != nil {
			return nil, err
		}
		now := m.config.Now().UTC()

		ws.mu.Lock()
		if ws.retired {
			// Evicted or replaced after load; read the current set instead.
			ws.mu.Unlock()
			continue
		}
		matched := find.Filter(ws.items, now)
		for _, item := range matched {
			item.LastAccessedAt = now
		}
		if len(matched) > 0 {
			ws.dirty = true
		}
		out := store.CloneItems(matched)
		ws.mu.Unlock()
		return out, nil
	}
}

// Update serializes a mutation of userID's set. The result is persisted
// before it replaces the cached set; on a persistence error the cache keeps
// the previous set and the error is returned.
func (m *Manager) Update(ctx context.Context, userID string, mutate Mutation) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	ws, err := m.loadLocked(ctx, userID)
	if err != nil {
		return err
	}

	ws.mu.RLock()
	snapshot := store.CloneItems(ws.items)
	ws.mu.RUnlock()

	next, changed, err := mutate(snapshot)
	if err != nil || !changed {
		return err
	}

	// Keep access stamps that readers set while mutate ran.
	ws.mu.RLock()
	accessed := make(map[string]time.Time, len(ws.items))
	for _, item := range ws.items {
		accessed[item.ID] = item.LastAccessedAt
	}
	ws.mu.RUnlock()
	for _, item := range next {
		if t, ok := accessed[item.ID]; ok && t.After(item.LastAccessedAt) {
			item.LastAccessedAt = t
		}
	}

	if err := m.persister.SaveUserMemories(ctx, userID, next); err != nil {
		return err
	}

	ws.mu.Lock()
	ws.items = next
	ws.dirty = false
	ws.mu.Unlock()
	ws.use(m.config.Now())
	return nil
}

// Delete removes every item of userID from the store and the cache and
// returns how many items were removed.
func (m *Manager) Delete(ctx context.Context, userID string) (int, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	ws, err := m.loadLocked(ctx, userID)
	if err != nil {
		return 0, err
	}
	ws.mu.RLock()
	n := len(ws.items)
	ws.mu.RUnlock()

	if err := m.persister.DeleteUserMemories(ctx, userID); err != nil {
		return 0, err
	}
	m.retire(userID)
	return n, nil
}

// WithUserLocked flushes userID's pending state and runs fn while holding the
// user's lock, so no mutation of that user interleaves with fn.
func (m *Manager) WithUserLocked(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	if err := m.flushLocked(ctx, userID); err != nil {
		return err
	}
	return fn(ctx)
}

// Replace runs fn under userID's lock and drops the cached set afterwards,
// so the next read reloads whatever fn wrote to the store.
func (m *Manager) Replace(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	err := fn(ctx)
	m.retire(userID)
	return err
}

// retire removes userID's set from the cache and marks it so that readers
// still holding it stop stamping it. The caller holds userID's lock.
func (m *Manager) retire(userID string) *workingSet {
	m.mu.Lock()
	ws := m.sets[userID]
	delete(m.sets, userID)
	m.mu.Unlock()
	if ws != nil {
		ws.mu.Lock()
		ws.retired = true
		ws.mu.Unlock()
	}
	m.observeUsers()
	return ws
}

// reinstate undoes retire. The caller holds userID's lock.
func (m *Manager) reinstate(userID string, ws *workingSet) {
	ws.mu.Lock()
	ws.retired = false
	ws.mu.Unlock()
	m.mu.Lock()
	m.sets[userID] = ws
	m.mu.Unlock()
	m.observeUsers()
}

func (m *Manager) flushLocked(ctx context.Context, userID string) error {
	return m.flushSet(ctx, userID, m.lookup(userID))
}

func (m *Manager) flushSet(ctx context.Context, userID string, ws *workingSet) error {
	if ws == nil {
		return nil
	}
	ws.mu.RLock()
	dirty := ws.dirty
	var items []*store.MemoryItem
	if dirty {
		items = store.CloneItems(ws.items)
	}
	ws.mu.RUnlock()
	if !dirty {
		return nil
	}
	if err := m.persister.SaveUserMemories(ctx, userID, items); err != nil {
		return errors.Wrapf(err, "failed to flush %s", userID)
	}
	ws.mu.Lock()
	ws.dirty = false
	ws.mu.Unlock()
	return nil
}

// Flush persists pending access stamps of every cached user.
func (m *Manager) Flush(ctx context.Context) error {
	var firstErr error
	for _, userID := range m.cachedUsers() {
		unlock := m.locks.Lock(userID)
		err := m.flushLocked(ctx, userID)
		unlock()
		if err != nil {
			slog.Error("failed to flush cached memories", "user_id", userID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) cachedUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sets))
	for id := range m.sets {
		ids = append(ids, id)
	}
	return ids
}

// Sweep evicts every user idle for longer than the idle timeout and returns
// the number of evicted users. A user whose flush fails stays cached.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.config.Now()
	evicted := 0
	for _, userID := range m.cachedUsers() {
		ws := m.lookup(userID)
		if ws == nil || ws.idleSince(now) < m.config.IdleTimeout {
			continue
		}

		unlock := m.locks.Lock(userID)
		// Re-check under the lock: the user may have been touched meanwhile.
		ws = m.lookup(userID)
		if ws == nil || ws.idleSince(m.config.Now()) < m.config.IdleTimeout {
			unlock()
			continue
		}
		// Retire first so no stamp lands between the flush and the removal.
		m.retire(userID)
		if err := m.flushSet(ctx, userID, ws); err != nil {
			m.reinstate(userID, ws)
			unlock()
			slog.Error("failed to flush before eviction", "user_id", userID, "error", err)
			continue
		}
		unlock()
		evicted++
	}

	if evicted > 0 {
		if m.config.Observer != nil {
			m.config.Observer.CacheEvicted(evicted)
		}
		slog.Debug("cache sweep evicted idle users", "count", evicted)
	}
	return evicted
}

// Start launches the background eviction sweep. It is a no-op when already running.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("cache sweeper stopped")
				return
			}
		}
	}(m.done)
}

// Close stops the sweep and flushes every cached user.
func (m *Manager) Close(ctx context.Context) error {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.Flush(ctx)
}

// IsCached reports whether userID currently has a working set in RAM.
func (m *Manager) IsCached(userID string) bool {
	return m.lookup(userID) != nil
}
