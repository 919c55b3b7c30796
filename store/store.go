package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/profile"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/secretbox"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/version"
)

// UserRecord is the persisted form of one user's memory set.
type UserRecord struct {
	Format    string        `json:"format"`
	UserID    string        `json:"user_id"`
	UpdatedAt time.Time     `json:"updated_at"`
	Items     []*MemoryItem `json:"items"`
}

// Store provides access to per-user memory records.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// box seals the Secrets bank; nil when encryption is disabled.
	box *secretbox.Box
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) (*Store, error) {
	s := &Store{
		driver:  driver,
		profile: profile,
	}
	if profile != nil && profile.IsSecretsEncryptionEnabled() {
		box, err := secretbox.New(profile.SecretsKey)
		if err != nil {
			return nil, errors.Wrap(err, "init secrets box")
		}
		s.box = box
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Location describes where userID's record is stored.
func (s *Store) Location(userID string) string {
	return s.driver.Location(userID)
}

// LoadUserMemories returns every stored item of userID. A user without a
// record has an empty set.
func (s *Store) LoadUserMemories(ctx context.Context, userID string) ([]*MemoryItem, error) {
	data, err := s.driver.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return []*MemoryItem{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load memories of %s", userID)
	}
	record, err := s.DecodeRecord(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode memories of %s", userID)
	}
	return record.Items, nil
}

// SaveUserMemories replaces userID's record with items.
func (s *Store) SaveUserMemories(ctx context.Context, userID string, items []*MemoryItem) error {
	data, err := s.EncodeRecord(userID, items)
	if err != nil {
		return err
	}
	if err := s.driver.Put(ctx, userID, data); err != nil {
		return errors.Wrapf(err, "failed to save memories of %s", userID)
	}
	return nil
}

// DeleteUserMemories removes userID's record. Deleting a missing record is not an error.
func (s *Store) DeleteUserMemories(ctx context.Context, userID string) error {
	if err := s.driver.Delete(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return errors.Wrapf(err, "failed to delete memories of %s", userID)
	}
	return nil
}

// ListUserIDs returns every user with a stored record.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.driver.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return ids, nil
}

// ExportUserRecord returns the raw stored record, Secrets still sealed.
func (s *Store) ExportUserRecord(ctx context.Context, userID string) ([]byte, error) {
	data, err := s.driver.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to export memories of %s", userID)
	}
	return data, nil
}

// ImportUserRecord validates data as a record of userID and stores it in place
// of the current record. It returns the number of imported items.
func (s *Store) ImportUserRecord(ctx context.Context, userID string, data []byte) (int, error) {
	record, err := s.DecodeRecord(data)
	if err != nil {
		return 0, err
	}
	if record.UserID != "" && record.UserID != userID {
		return 0, errors.Errorf("record belongs to %s, not %s", record.UserID, userID)
	}
	for _, item := range record.Items {
		item.UserID = userID
	}
	if err := s.SaveUserMemories(ctx, userID, record.Items); err != nil {
		return 0, err
	}
	return len(record.Items), nil
}

// EncodeRecord serializes items, sealing Secrets-bank text when encryption is enabled.
func (s *Store) EncodeRecord(userID string, items []*MemoryItem) ([]byte, error) {
	record := &UserRecord{
		Format:    version.RecordFormat,
		UserID:    userID,
		UpdatedAt: time.Now().UTC(),
		Items:     make([]*MemoryItem, 0, len(items)),
	}
	for _, item := range items {
		if item.Bank == BankSecrets && s.box != nil {
			sealed, err := s.box.Seal(item.Text)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to seal memory %s", item.ID)
			}
			c := item.Clone()
			c.Text = sealed
			item = c
		}
		record.Items = append(record.Items, item)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode record")
	}
	return data, nil
}

// DecodeRecord parses a stored record and opens sealed Secrets-bank text.
func (s *Store) DecodeRecord(data []byte) (*UserRecord, error) {
	record := &UserRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, errors.Wrap(err, "malformed record")
	}
	if !version.IsRecordCompatible(record.Format) {
		return nil, errors.Errorf("unsupported record format %q", record.Format)
	}
	if record.Items == nil {
		record.Items = []*MemoryItem{}
	}
	for _, item := range record.Items {
		if item == nil {
			return nil, errors.New("record contains a null item")
		}
		if item.Bank == "" {
			item.Bank = BankGeneral
		}
		if !secretbox.IsSealed(item.Text) {
			continue
		}
		if s.box == nil {
			return nil, errors.Errorf("memory %s is sealed but MEMORY_SECRETS_KEY is not set", item.ID)
		}
		text, err := s.box.Open(item.Text)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open memory %s", item.ID)
		}
		item.Text = text
	}
	return record, nil
}
