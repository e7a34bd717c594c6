package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no aircraft matches the requested address
var ErrNotFound = errors.New("aircraft not found")

// DB wraps the SQLite reference database
type DB struct {
	db       *sql.DB
	readOnly bool
}

// Open opens an existing reference database read-only.
// The ingestion daemon never writes the aircraft table, so a missing file is an error
// rather than something to create.
func Open(dbPath string) (*DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("reference database unavailable: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Point lookups only; a larger page cache keeps the hot part of the table in RAM
	if _, err := db.Exec("PRAGMA cache_size=-64000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set cache size: %w", err)
	}

	database := &DB{db: db, readOnly: true}
	if _, err := database.Aircraft().IsTablePopulated(); err != nil {
		db.Close()
		return nil, err
	}

	return database, nil
}

// OpenWritable opens (creating if needed) a reference database for import
func OpenWritable(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := optimizeSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to optimize database: %w", err)
	}

	database := &DB{db: db}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// optimizeSQLite applies settings for bulk loading
func optimizeSQLite(db *sql.DB) error {
	// Rollback journal, not WAL: the daemon opens the file with mode=ro,
	// which cannot create the -shm file a WAL database needs.
	if _, err := db.Exec("PRAGMA journal_mode=DELETE"); err != nil {
		return fmt.Errorf("failed to set journal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA cache_size=-64000"); err != nil {
		return fmt.Errorf("failed to set cache size: %w", err)
	}

	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA temp_store=MEMORY"); err != nil {
		return fmt.Errorf("failed to set temp_store: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return nil
}

// Aircraft returns the repository for the aircraft reference table
func (d *DB) Aircraft() AircraftRepository {
	return NewAircraftRepository(d.db)
}

// ReadOnly reports whether the database was opened with Open
func (d *DB) ReadOnly() bool {
	return d.readOnly
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates the aircraft table if it doesn't exist
func (d *DB) initSchema() error {
	aircraftSchema := `CREATE TABLE IF NOT EXISTS aircraft (
		icao TEXT PRIMARY KEY,
		reg TEXT,
		icaotype TEXT,
		model TEXT,
		manufacturer TEXT,
		ownop TEXT,
		short_type TEXT,
		year TEXT,
		mil INTEGER NOT NULL DEFAULT 0,
		pia INTEGER NOT NULL DEFAULT 0,
		ladd INTEGER NOT NULL DEFAULT 0
	);`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_aircraft_reg ON aircraft(reg)`,
	}

	if _, err := d.db.Exec(aircraftSchema); err != nil {
		return fmt.Errorf("failed to create aircraft table: %w", err)
	}

	for _, idx := range indexes {
		if _, err := d.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
