// Package tokencache persists the MSAL token cache and a little shell state in
// a SQL database so every shell process on the machine shares one sign-in.
package tokencache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store implements cache.ExportReplace over database/sql.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
	now    func() time.Time
}

var _ cache.ExportReplace = (*Store)(nil)

// Open connects to the cache database and creates the schema if needed.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported cache driver %q", driver)
	}
	if driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if driver == DriverSQLite {
		// one writer at a time; WAL lets other shell processes keep reading
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := NewStore(db, driver, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("token cache store opened", zap.String("driver", driver))
	return s, nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB, driver string, logger *zap.Logger) *Store {
	return &Store{db: db, driver: driver, logger: logger, now: time.Now}
}

// Migrate creates the cache tables.
func (s *Store) Migrate(ctx context.Context) error {
	blob := "BLOB"
	if s.driver == DriverPostgres {
		blob = "BYTEA"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS token_cache (
			partition_key TEXT PRIMARY KEY,
			data ` + blob + ` NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shell_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating cache schema: %w", err)
		}
	}
	return nil
}

// Replace loads the serialized cache for the hinted partition into MSAL.
func (s *Store) Replace(ctx context.Context, u cache.Unmarshaler, h cache.ReplaceHints) error {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM token_cache WHERE partition_key = "+s.arg(1),
		h.PartitionKey,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading token cache: %w", err)
	}
	if err := u.Unmarshal(data); err != nil {
		return fmt.Errorf("decoding token cache: %w", err)
	}
	return nil
}

// Export writes MSAL's serialized cache for the hinted partition.
func (s *Store) Export(ctx context.Context, m cache.Marshaler, h cache.ExportHints) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("encoding token cache: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO token_cache (partition_key, data, updated_at) VALUES ("+s.arg(1)+", "+s.arg(2)+", "+s.arg(3)+") "+
			"ON CONFLICT (partition_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at",
		h.PartitionKey, data, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing token cache: %w", err)
	}
	s.logger.Debug("token cache exported", zap.Int("bytes", len(data)))
	return nil
}

// GetState reads a shell state value.
func (s *Store) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM shell_state WHERE key = "+s.arg(1), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading shell state %q: %w", key, err)
	}
	return value, true, nil
}

// SetState writes a shell state value.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO shell_state (key, value, updated_at) VALUES ("+s.arg(1)+", "+s.arg(2)+", "+s.arg(3)+") "+
			"ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing shell state %q: %w", key, err)
	}
	return nil
}

// DeleteState removes a shell state value. Missing keys are not an error.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM shell_state WHERE key = "+s.arg(1), key); err != nil {
		return fmt.Errorf("deleting shell state %q: %w", key, err)
	}
	return nil
}

// HealthCheck performs a health check on the cache database
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("cache database health check failed: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (s *Store) Close() error {
	s.logger.Info("closing token cache store")
	return s.db.Close()
}

// arg returns the n-th bind placeholder for the store's driver.
func (s *Store) arg(n int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
