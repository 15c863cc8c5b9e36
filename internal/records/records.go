// Package records persists document records, bot settings, conversation
// history and usage events in postgres or sqlite through sqlx.
package records

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config selects and tunes the database.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Store is the sqlx backed record store.
type Store struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
	logger *slog.Logger
}

// Open connects to the database. Migrations are not applied; call Migrate.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case DriverPostgres, "pgx":
		db, err = sqlx.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 20
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen / 2)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(10 * time.Minute)
	case DriverSQLite:
		db, err = sqlx.Open(DriverSQLite, sqliteDSN(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		// One connection serializes writers and keeps :memory: databases
		// shared across calls.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &Store{
		db:     db,
		driver: db.DriverName(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "records"),
	}, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	pragmas := []string{"_pragma=busy_timeout(5000)"}
	if !strings.Contains(dsn, ":memory:") {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies pending migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return 0, fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	applied := 0
	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return applied, fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return applied, fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			s.db.Rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
			version, s.now()); err != nil {
			return applied, fmt.Errorf("recording migration %s: %w", name, err)
		}
		applied++
		s.logger.Info("Applied migration", "name", name)
	}
	return applied, nil
}
