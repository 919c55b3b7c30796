package store

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

// Bank classifies a memory.
type Bank string

const (
	BankGeneral  Bank = "General"
	BankPersonal Bank = "Personal"
	BankWork     Bank = "Work"
	BankJokes    Bank = "Jokes"
	BankSecrets  Bank = "Secrets"
)

// Banks lists the closed set of banks in display order.
var Banks = []Bank{BankGeneral, BankPersonal, BankWork, BankJokes, BankSecrets}

// ParseBank resolves a bank name case-insensitively. Empty input yields General.
func ParseBank(s string) (Bank, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return BankGeneral, nil
	}
	for _, b := range Banks {
		if strings.EqualFold(string(b), s) {
			return b, nil
		}
	}
	return "", errors.Errorf("unknown bank %q", s)
}

// MemoryItem is a single remembered fact owned by one user.
type MemoryItem struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Text           string            `json:"text"`
	Bank           Bank              `json:"bank"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	Score          float64           `json:"score,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
	Tags           []string          `json:"tags,omitempty"`

	// Vector is scratch space for a single scoring pass and is never persisted.
	Vector []float32 `json:"-"`
}

// NewMemoryID returns a globally unique memory identifier.
func NewMemoryID() string {
	return "mem_" + shortuuid.New()
}

// IsExpired reports whether the item is past its expiry at now.
func (m *MemoryItem) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Clone returns a deep copy without the transient vector.
func (m *MemoryItem) Clone() *MemoryItem {
	c := *m
	c.Vector = nil
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		c.ExpiresAt = &t
	}
	if m.Meta != nil {
		c.Meta = make(map[string]string, len(m.Meta))
		for k, v := range m.Meta {
			c.Meta[k] = v
		}
	}
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	return &c
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []*MemoryItem) []*MemoryItem {
	out := make([]*MemoryItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

// FindMemoryItem specifies the conditions for reading a user's memories.
type FindMemoryItem struct {
	UserID string
	Bank   *Bank
	Query  string // case-insensitive substring match on text
	Limit  int
}

const (
	DefaultFindLimit = 50
	MaxFindLimit     = 1000
)

// Filter applies find to items at now: drops expired and non-matching items,
// sorts by last access (newest first, then newest created) and applies the limit.
func (find *FindMemoryItem) Filter(items []*MemoryItem, now time.Time) []*MemoryItem {
	query := strings.ToLower(strings.TrimSpace(find.Query))
	out := make([]*MemoryItem, 0, len(items))
	for _, item := range items {
		if item.IsExpired(now) {
			continue
		}
		if find.Bank != nil && item.Bank != *find.Bank {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(item.Text), query) {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastAccessedAt.Equal(out[j].LastAccessedAt) {
			return out[i].LastAccessedAt.After(out[j].LastAccessedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := find.Limit
	if limit <= 0 {
		limit = DefaultFindLimit
	}
	if limit > MaxFindLimit {
		limit = MaxFindLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,127}$`)

// ValidateUserID rejects identifiers that are unsafe as record keys or file names.
func ValidateUserID(userID string) error {
	if !userIDPattern.MatchString(userID) || strings.Contains(userID, "..") {
		return errors.Errorf("invalid user_id %q", userID)
	}
	return nil
}
