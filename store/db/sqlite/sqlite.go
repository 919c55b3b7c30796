package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/profile"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_memory (
	user_id    TEXT PRIMARY KEY,
	record     BLOB NOT NULL,
	updated_ts INTEGER NOT NULL
)`

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No foreign key constraints: the schema has none.
	// - Journal mode set to WAL: it's the recommended journal mode for most applications
	// as it prevents locking issues.
	//
	// When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// A single connection serializes writers; per-user locking above keeps contention low.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate user_memory")
	}
	return nil
}

func (d *DB) Location(userID string) string {
	return fmt.Sprintf("%s#user_memory/%s", d.profile.DSN, userID)
}

func (d *DB) Get(ctx context.Context, userID string) ([]byte, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx, "SELECT record FROM user_memory WHERE user_id = ?", userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query user_memory")
	}
	return data, nil
}

func (d *DB) Put(ctx context.Context, userID string, data []byte) error {
	stmt := `
		INSERT INTO user_memory (user_id, record, updated_ts) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET record = excluded.record, updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, userID, data, time.Now().Unix()); err != nil {
		return errors.Wrap(err, "failed to upsert user_memory")
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, userID string) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM user_memory WHERE user_id = ?", userID)
	if err != nil {
		return errors.Wrap(err, "failed to delete user_memory")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) List(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT user_id FROM user_memory ORDER BY user_id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user_memory")
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan user_id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate user_memory")
	}
	return ids, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
