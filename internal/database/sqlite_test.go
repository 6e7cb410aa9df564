package database

import (
	"fmt"
	"path/filepath"
	"testing"

	"go-xenocanto-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	require.NoError(t, err, "Failed to open database")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createTestLedgerEntry(id string) models.LedgerEntry {
	return models.LedgerEntry{
		RecordingID: id,
		Genus:       "Larus",
		Species:     "fuscus",
		EnglishName: "Lesser Black-backed Gull",
		Country:     "United Kingdom",
		Folder:      "Larus_fuscus",
		Filename:    "XC" + id + ".mp3",
		FileURL:     "https://xeno-canto.org/" + id + "/download",
		Status:      models.StatusDownloaded,
		Blake3:      "abc123",
		Bytes:       1024,
		Timestamp:   1700000000,
	}
}

// TestSQLiteBasicOperations tests core ledger operations
func TestSQLiteBasicOperations(t *testing.T) {
	db := openTestDB(t)
	entry := createTestLedgerEntry("12345")

	t.Run("Put Operation", func(t *testing.T) {
		assert.NoError(t, db.Put(entry), "Put operation should succeed")
	})

	t.Run("Has Operation", func(t *testing.T) {
		assert.True(t, db.Has("12345"), "Recording should exist after Put")
		assert.False(t, db.Has("999999999"), "Unknown recording should not exist")
	})

	t.Run("Get Operation", func(t *testing.T) {
		retrieved, err := db.Get("12345")
		require.NoError(t, err, "Get operation should succeed")
		assert.Equal(t, entry, retrieved)

		_, err = db.Get("999999999")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Upsert Operation", func(t *testing.T) {
		updated := entry
		updated.Status = models.StatusError
		updated.ErrorDetails = "unexpected HTTP status code: 404"
		updated.Bytes = 0
		require.NoError(t, db.Put(updated))

		retrieved, err := db.Get("12345")
		require.NoError(t, err)
		assert.Equal(t, models.StatusError, retrieved.Status)
		assert.Equal(t, "unexpected HTTP status code: 404", retrieved.ErrorDetails)

		entries, err := db.List("")
		require.NoError(t, err)
		assert.Len(t, entries, 1, "Upsert should not create a second row")
	})

	t.Run("Delete Operation", func(t *testing.T) {
		require.NoError(t, db.Delete("12345"))
		assert.False(t, db.Has("12345"))
		assert.ErrorIs(t, db.Delete("12345"), ErrNotFound)
	})
}

func TestSQLiteDefaults(t *testing.T) {
	db := openTestDB(t)

	entry := models.LedgerEntry{RecordingID: "7", Folder: "Unknown_unknown", Filename: "XC7.mp3"}
	require.NoError(t, db.Put(entry))

	retrieved, err := db.Get("7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, retrieved.Status)
	assert.NotZero(t, retrieved.Timestamp, "Timestamp should default to now")

	assert.Error(t, db.Put(models.LedgerEntry{Folder: "x", Filename: "y"}), "Empty id should be rejected")
}

// TestSQLiteDataIntegrity tests database constraints
func TestSQLiteDataIntegrity(t *testing.T) {
	db := openTestDB(t)

	entry := createTestLedgerEntry("1")
	entry.Status = "InvalidStatus"

	err := db.Put(entry)
	require.Error(t, err, "Should reject invalid status")
	assert.Contains(t, err.Error(), "constraint", "Error should mention constraint violation")
}

func TestSQLiteListAndFold(t *testing.T) {
	db := openTestDB(t)

	for _, id := range []string{"100", "9", "20"} {
		require.NoError(t, db.Put(createTestLedgerEntry(id)))
	}
	skipped := createTestLedgerEntry("5")
	skipped.Status = models.StatusSkipped
	require.NoError(t, db.Put(skipped))

	entries, err := db.List("")
	require.NoError(t, err)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.RecordingID)
	}
	assert.Equal(t, []string{"5", "9", "20", "100"}, ids, "List should order numerically")

	downloaded, err := db.List(models.StatusDownloaded)
	require.NoError(t, err)
	assert.Len(t, downloaded, 3)

	counts, err := db.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{models.StatusDownloaded: 3, models.StatusSkipped: 1}, counts)

	// Fold releases the lock so the callback can write.
	err = db.Fold(func(e models.LedgerEntry) error {
		e.Blake3 = "rehashed-" + e.RecordingID
		return db.Put(e)
	})
	require.NoError(t, err)
	got, err := db.Get("20")
	require.NoError(t, err)
	assert.Equal(t, "rehashed-20", got.Blake3)

	stop := fmt.Errorf("stop")
	visited := 0
	err = db.Fold(func(e models.LedgerEntry) error {
		visited++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, visited)
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Put(createTestLedgerEntry("42")))
	require.NoError(t, db.Close())
	assert.NoError(t, db.Close(), "Close should be idempotent")

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, db.Has("42"), "Entries should persist across reopen")
}
