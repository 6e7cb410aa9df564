package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go-xenocanto-download/internal/models"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a recording is not in the ledger.
var ErrNotFound = errors.New("recording not found")

// DB wraps the SQLite download ledger and provides helper methods.
type DB struct {
	db *sql.DB
	sync.RWMutex
	closeOnce sync.Once
	closed    bool
	closeErr  error
}

const entryColumns = `recording_id, genus, species, english_name, country, folder, filename,
	file_url, status, blake3, error_details, bytes, timestamp`

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %s: %w", path, err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database at %s: %w", path, err)
	}

	dbWrapper := &DB{db: db}
	if err := dbWrapper.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	log.Debugf("SQLite ledger opened at %s", path)
	return dbWrapper, nil
}

// initSchema creates the database schema if it doesn't exist
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS recordings (
		recording_id TEXT PRIMARY KEY,
		genus TEXT NOT NULL DEFAULT '',
		species TEXT NOT NULL DEFAULT '',
		english_name TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		folder TEXT NOT NULL,
		filename TEXT NOT NULL,
		file_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('Pending', 'Downloaded', 'Skipped', 'Error')),
		blake3 TEXT NOT NULL DEFAULT '',
		error_details TEXT NOT NULL DEFAULT '',
		bytes INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings(status);
	CREATE INDEX IF NOT EXISTS idx_recordings_species ON recordings(genus, species);
	CREATE INDEX IF NOT EXISTS idx_recordings_folder ON recordings(folder);

	CREATE TRIGGER IF NOT EXISTS update_recordings_timestamp
		AFTER UPDATE ON recordings
		BEGIN
			UPDATE recordings SET updated_at = CURRENT_TIMESTAMP WHERE recording_id = NEW.recording_id;
		END;
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close safely closes the database connection.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		log.Debug("Closing database...")
		d.Lock()
		defer d.Unlock()

		d.closeErr = d.db.Close()
		d.closed = true

		if d.closeErr != nil {
			log.Errorf("Error during database close operation: %v", d.closeErr)
		}
	})

	return d.closeErr
}

// Has checks if a recording is in the ledger.
func (d *DB) Has(recordingID string) bool {
	d.RLock()
	defer d.RUnlock()

	var exists bool
	err := d.db.QueryRow("SELECT EXISTS(SELECT 1 FROM recordings WHERE recording_id = ?)", recordingID).Scan(&exists)
	return err == nil && exists
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.RecordingID, &e.Genus, &e.Species, &e.EnglishName, &e.Country,
		&e.Folder, &e.Filename, &e.FileURL, &e.Status, &e.Blake3, &e.ErrorDetails,
		&e.Bytes, &e.Timestamp)
	return e, err
}

// Get retrieves the ledger entry for a recording.
func (d *DB) Get(recordingID string) (models.LedgerEntry, error) {
	d.RLock()
	defer d.RUnlock()

	row := d.db.QueryRow("SELECT "+entryColumns+" FROM recordings WHERE recording_id = ?", recordingID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LedgerEntry{}, ErrNotFound
	} else if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("error querying recording %s: %w", recordingID, err)
	}
	return entry, nil
}

// Put inserts or updates the ledger entry for a recording. A zero Timestamp
// is set to the current time.
func (d *DB) Put(entry models.LedgerEntry) error {
	if strings.TrimSpace(entry.RecordingID) == "" {
		return fmt.Errorf("ledger entry has no recording id")
	}
	if entry.Status == "" {
		entry.Status = models.StatusPending
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}

	d.Lock()
	defer d.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO recordings (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(recording_id) DO UPDATE SET
			genus = excluded.genus,
			species = excluded.species,
			english_name = excluded.english_name,
			country = excluded.country,
			folder = excluded.folder,
			filename = excluded.filename,
			file_url = excluded.file_url,
			status = excluded.status,
			blake3 = excluded.blake3,
			error_details = excluded.error_details,
			bytes = excluded.bytes,
			timestamp = excluded.timestamp
	`, entry.RecordingID, entry.Genus, entry.Species, entry.EnglishName, entry.Country,
		entry.Folder, entry.Filename, entry.FileURL, entry.Status, entry.Blake3,
		entry.ErrorDetails, entry.Bytes, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("error storing recording %s: %w", entry.RecordingID, err)
	}
	return nil
}

// Delete removes a recording from the ledger.
func (d *DB) Delete(recordingID string) error {
	d.Lock()
	defer d.Unlock()

	result, err := d.db.Exec("DELETE FROM recordings WHERE recording_id = ?", recordingID)
	if err != nil {
		return fmt.Errorf("error deleting recording %s: %w", recordingID, err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns ledger entries ordered by numeric recording id. An empty
// status returns every entry.
func (d *DB) List(status string) ([]models.LedgerEntry, error) {
	d.RLock()
	defer d.RUnlock()

	query := "SELECT " + entryColumns + " FROM recordings"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY CAST(recording_id AS INTEGER), recording_id"

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying recordings: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			log.WithError(err).Warn("List: Error scanning recording row")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Fold calls fn for every ledger entry in List order. The ledger is not
// locked while fn runs, so fn may write to it.
func (d *DB) Fold(fn func(entry models.LedgerEntry) error) error {
	entries, err := d.List("")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// CountByStatus returns the number of entries per status.
func (d *DB) CountByStatus() (map[string]int, error) {
	d.RLock()
	defer d.RUnlock()

	rows, err := d.db.Query("SELECT status, COUNT(*) FROM recordings GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("error counting recordings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("error scanning status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
