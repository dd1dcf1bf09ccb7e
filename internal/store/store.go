package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"igharvest/pkg/config"
	errs "igharvest/pkg/errors"
	"igharvest/pkg/logger"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Store persists products, sessions and snapshots in PostgreSQL or SQLite.
type Store struct {
	db     *sql.DB
	driver string
	logger logger.Logger
}

// Open connects to the configured database and applies migrations when
// auto_migrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*Store, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// one writer avoids SQLITE_BUSY and keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := New(db, driver, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := s.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps an open database handle.
func New(db *sql.DB, driver string, log logger.Logger) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{db: db, driver: driver, logger: log.WithField("component", "store")}, nil
}

// Migrate applies every pending up migration.
func (s *Store) Migrate() error {
	m, done, err := s.migrator()
	if err != nil {
		return err
	}
	defer done()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	s.logger.InfoWithFields("Database migrated", map[string]interface{}{
		"driver":  s.driver,
		"version": version,
		"dirty":   dirty,
	})
	return nil
}

// MigrateDown reverts every migration.
func (s *Store) MigrateDown() error {
	m, done, err := s.migrator()
	if err != nil {
		return err
	}
	defer done()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the applied schema version (0 when none).
func (s *Store) MigrationVersion() (uint, bool, error) {
	m, done, err := s.migrator()
	if err != nil {
		return 0, false, err
	}
	defer done()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// migrator builds a migrate instance over s.db. done releases what the
// instance holds without closing s.db.
func (s *Store) migrator() (*migrate.Migrate, func(), error) {
	source, err := iofs.New(migrationsFS, "migrations/"+s.driver)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	var (
		driver database.Driver
		done   = func() { _ = source.Close() }
	)
	switch s.driver {
	case DriverPostgres:
		ctx := context.Background()
		conn, cerr := s.db.Conn(ctx)
		if cerr != nil {
			return nil, nil, fmt.Errorf("failed to acquire connection: %w", cerr)
		}
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
		if err != nil {
			conn.Close()
		}
		done = func() {
			_ = source.Close()
			_ = conn.Close()
		}
	default:
		// the sqlite driver's Close closes the shared handle, so it is never called
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
	}
	if err != nil {
		_ = source.Close()
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, s.driver, driver)
	if err != nil {
		done()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, done, nil
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func persistErr(op string, err error) error {
	return errs.New(errs.ErrorTypePersistence, 0, "%s: %v", op, err)
}

// timeValue scans timestamps from either driver.
type timeValue struct {
	t time.Time
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (v *timeValue) Scan(src interface{}) error {
	switch x := src.(type) {
	case nil:
		v.t = time.Time{}
		return nil
	case time.Time:
		v.t = x.UTC()
		return nil
	case int64:
		v.t = time.Unix(x, 0).UTC()
		return nil
	case []byte:
		return v.parse(string(x))
	case string:
		return v.parse(x)
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (v *timeValue) parse(s string) error {
	// time.Time.String appends the monotonic clock reading when present
	if i := strings.Index(s, " m="); i >= 0 {
		s = s[:i]
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			v.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", s)
}

// now is truncated to microseconds, the PostgreSQL resolution.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
