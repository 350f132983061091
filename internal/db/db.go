package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"warimas-pos/internal/config"
	"warimas-pos/internal/logger"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrUnavailable marks every failure to reach the local database.
var ErrUnavailable = errors.New("local store unavailable")

// Conn hands out the local database, opening it on first use.
type Conn interface {
	DB(ctx context.Context) (*sql.DB, error)
	Driver() string
}

// Builder returns a squirrel builder using the placeholder style of the driver.
func Builder(driver string) sq.StatementBuilderType {
	if driver == DriverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Open connects to the local database and applies driver pragmas.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	if driver == DriverSQLite {
		// one writer at a time avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

var gooseMu sync.Mutex

func gooseDialect(driver string) string {
	if driver == DriverPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// Migrate applies pending migrations. Migrations only ever add tables and
// indices, so running it against an existing store keeps its records.
func Migrate(db *sql.DB, driver string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(gooseDialect(driver)); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate local store: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(db *sql.DB, driver string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(gooseDialect(driver)); err != nil {
		return err
	}
	return goose.Down(db, "migrations")
}

// Version returns the applied schema version.
func Version(db *sql.DB, driver string) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(gooseDialect(driver)); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}

// Lazy opens and migrates the local database the first time it is needed.
// A failed attempt is not cached, so a later call retries.
type Lazy struct {
	driver string
	dsn    string
	open   func(driver, dsn string) (*sql.DB, error)

	mu sync.Mutex
	db *sql.DB
}

func NewLazy(cfg *config.Config) *Lazy {
	return &Lazy{driver: cfg.LocalDBDriver, dsn: cfg.LocalDBDSN, open: Open}
}

func (l *Lazy) Driver() string { return l.driver }

func (l *Lazy) DB(ctx context.Context) (*sql.DB, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db != nil {
		return l.db, nil
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "db"),
		zap.String("driver", l.driver),
	)

	db, err := l.open(l.driver, l.dsn)
	if err != nil {
		log.Warn("local store open failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := Migrate(db, l.driver); err != nil {
		db.Close()
		log.Warn("local store migration failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	log.Info("local store ready")
	l.db = db
	return db, nil
}

func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

type static struct {
	db     *sql.DB
	driver string
}

// Static wraps an already open database, e.g. a sqlmock handle.
func Static(db *sql.DB, driver string) Conn {
	return &static{db: db, driver: driver}
}

func (s *static) DB(context.Context) (*sql.DB, error) { return s.db, nil }
func (s *static) Driver() string                      { return s.driver }
