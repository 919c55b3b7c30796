package postgres

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/profile"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_memory (
	user_id    TEXT PRIMARY KEY,
	record     BYTEA NOT NULL,
	updated_ts BIGINT NOT NULL
)`

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil || profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate user_memory")
	}
	return nil
}

// Location omits credentials from the DSN.
func (d *DB) Location(userID string) string {
	host := "postgres"
	if u, err := url.Parse(d.profile.DSN); err == nil && u.Host != "" {
		host = u.Host + u.Path
	}
	return host + "#user_memory/" + userID
}

func (d *DB) Get(ctx context.Context, userID string) ([]byte, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx, "SELECT record FROM user_memory WHERE user_id = $1", userID).Scan(&data)
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
		INSERT INTO user_memory (user_id, record, updated_ts) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET record = EXCLUDED.record, updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, userID, data, time.Now().Unix()); err != nil {
		return errors.Wrap(err, "failed to upsert user_memory")
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, userID string) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM user_memory WHERE user_id = $1", userID)
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
	return ids, errors.Wrap(rows.Err(), "failed to iterate user_memory")
}

func (d *DB) Close() error {
	return d.db.Close()
}
