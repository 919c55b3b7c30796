package memory

import (
	"context"
	"sort"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/observability/logging"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/errcode"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

// GetMemories returns the user's non-expired items matching find, most
// recently accessed first, and stamps them as accessed.
func (s *Service) GetMemories(ctx context.Context, find *store.FindMemoryItem) ([]*store.MemoryItem, error) {
	if err := store.ValidateUserID(find.UserID); err != nil {
		return nil, errcode.InvalidArgument("%v", err)
	}
	if find.Limit < 0 {
		return nil, errcode.InvalidArgument("limit must not be negative")
	}
	items, err := s.cache.Find(ctx, find)
	if err != nil {
		return nil, errcode.Storage("failed to read memories", err)
	}
	return items, nil
}

// DeleteUserMemories removes every item of the user and returns how many
// were removed.
func (s *Service) DeleteUserMemories(ctx context.Context, userID string) (int, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return 0, errcode.InvalidArgument("%v", err)
	}
	n, err := s.cache.Delete(ctx, userID)
	if err != nil {
		return 0, errcode.Storage("failed to delete memories", err)
	}
	logging.FromContext(ctx).Info("user memories deleted", logging.KeyUserID, userID, "count", n)
	return n, nil
}

// Stats describes one user's set.
type Stats struct {
	Total  int                `json:"total"`
	MaxRAM int                `json:"max_ram"`
	File   string             `json:"file"`
	Banks  map[store.Bank]int `json:"banks"`
	// Cached reports whether the set was already in RAM when asked.
	Cached bool               `json:"cached"`
}

// Stats counts the user's non-expired items per bank.
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return nil, errcode.InvalidArgument("%v", err)
	}
	cached := s.cache.IsCached(userID)
	items, err := s.cache.Get(ctx, userID)
	if err != nil {
		return nil, errcode.Storage("failed to read memories", err)
	}

	stats := &Stats{
		Cached: cached,
		MaxRAM: s.config.MaxItems,
		Banks:  make(map[store.Bank]int, len(store.Banks)),
	}
	if s.store != nil {
		stats.File = s.store.Location(userID)
	}
	for _, b := range store.Banks {
		stats.Banks[b] = 0
	}
	for _, item := range liveItems(items, s.now().UTC()) {
		stats.Total++
		stats.Banks[item.Bank]++
	}
	return stats, nil
}

// PruneResult reports a prune.
type PruneResult struct {
	Pruned int `json:"pruned"`
	Left   int `json:"left"`
}

// Prune drops the user's expired items, then the amount oldest by creation time.
func (s *Service) Prune(ctx context.Context, userID string, amount int) (*PruneResult, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return nil, errcode.InvalidArgument("%v", err)
	}
	if amount < 0 {
		return nil, errcode.InvalidArgument("amount must not be negative")
	}

	result := &PruneResult{}
	err := s.cache.Update(ctx, userID, func(items []*store.MemoryItem) ([]*store.MemoryItem, bool, error) {
		live := liveItems(items, s.now().UTC())
		sort.SliceStable(live, func(i, j int) bool {
			return live[i].CreatedAt.Before(live[j].CreatedAt)
		})
		drop := min(amount, len(live))
		next := live[drop:]

		result.Pruned = len(items) - len(next)
		result.Left = len(next)
		return next, result.Pruned > 0, nil
	})
	if err != nil {
		return nil, errcode.Storage("failed to prune memories", err)
	}
	if result.Pruned > 0 {
		logging.FromContext(ctx).Info("memories pruned", logging.KeyUserID, userID, "pruned", result.Pruned, "left", result.Left)
	}
	return result, nil
}
