package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go-xenocanto-download/internal/database"
	"go-xenocanto-download/internal/downloader"
	"go-xenocanto-download/internal/helpers"
	"go-xenocanto-download/internal/index"
	"go-xenocanto-download/internal/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestVerifyEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Larus_fuscus", "XC1.mp3")
	writeFile(t, path, "gull audio")
	hash, err := helpers.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error: %v", err)
	}

	base := models.LedgerEntry{
		RecordingID: "1",
		Folder:      "Larus_fuscus",
		Filename:    "XC1.mp3",
		Status:      models.StatusDownloaded,
		Blake3:      hash,
	}

	tests := []struct {
		name      string
		mutate    func(e *models.LedgerEntry)
		checkHash bool
		want      string
	}{
		{"ok with hash", func(e *models.LedgerEntry) {}, true, verifyOK},
		{"mismatch", func(e *models.LedgerEntry) { e.Blake3 = "00ff" }, true, verifyMismatch},
		{"mismatch ignored without hash check", func(e *models.LedgerEntry) { e.Blake3 = "00ff" }, false, verifyOK},
		{"no stored hash", func(e *models.LedgerEntry) { e.Blake3 = "" }, true, verifyOK},
		{"missing file", func(e *models.LedgerEntry) { e.Filename = "XC2.mp3" }, true, verifyMissing},
		{"skipped entries are checked", func(e *models.LedgerEntry) { e.Status = models.StatusSkipped }, true, verifyOK},
		{"error entries are not checked", func(e *models.LedgerEntry) { e.Status = models.StatusError }, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := base
			tt.mutate(&entry)
			if got := verifyEntry(dir, entry, tt.checkHash); got != tt.want {
				t.Errorf("verifyEntry() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"downloaded", models.StatusDownloaded, false},
		{"ERROR", models.StatusError, false},
		{"Skipped", models.StatusSkipped, false},
		{"done", "", true},
	}
	for _, tt := range tests {
		got, err := normalizeStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("normalizeStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLedgerEntryFor(t *testing.T) {
	rec := &models.Recording{ID: "42", Genus: "Larus", Species: "fuscus", EnglishName: "Lesser Black-backed Gull", Country: "Netherlands", File: "https://example.org/42/download"}
	res := downloader.Result{
		Status: models.StatusDownloaded,
		Folder: "Larus_fuscus",
		Path:   filepath.Join("out", "Larus_fuscus", "XC42.mp3"),
		Bytes:  1234,
		Blake3: "abcd",
	}

	entry := ledgerEntryFor(rec, res, nil)
	if entry.RecordingID != "42" || entry.Folder != "Larus_fuscus" || entry.Filename != "XC42.mp3" {
		t.Errorf("unexpected identity fields: %+v", entry)
	}
	if entry.Status != models.StatusDownloaded || entry.Bytes != 1234 || entry.Blake3 != "abcd" {
		t.Errorf("unexpected result fields: %+v", entry)
	}
	if entry.FileURL != rec.File || entry.Timestamp == 0 {
		t.Errorf("file url or timestamp not set: %+v", entry)
	}

	failed := ledgerEntryFor(rec, res, errors.New("boom"))
	if failed.Status != models.StatusError || failed.ErrorDetails != "boom" {
		t.Errorf("error entry = %+v", failed)
	}
	if failed.Blake3 != "" || failed.Bytes != 0 {
		t.Errorf("error entry should not carry hash or size: %+v", failed)
	}
}

func TestRecordResult(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	defer db.Close()

	idx, err := index.NewMemIndex()
	if err != nil {
		t.Fatalf("NewMemIndex() error: %v", err)
	}
	defer idx.Close()

	hook := recordResult(db, idx, nil)

	gull := &models.Recording{ID: "1", Genus: "Larus", Species: "fuscus", EnglishName: "Lesser Black-backed Gull"}
	hook(downloader.Event{
		Index:     0,
		Total:     2,
		Recording: gull,
		Result:    downloader.Result{Status: models.StatusDownloaded, Folder: "Larus_fuscus", Path: "out/Larus_fuscus/XC1.mp3", Bytes: 10, Blake3: "feed"},
	})

	owl := &models.Recording{ID: "2", Genus: "Strix", Species: "aluco"}
	hook(downloader.Event{
		Index:     1,
		Total:     2,
		Recording: owl,
		Result:    downloader.Result{Folder: "Strix_aluco", Path: "out/Strix_aluco/XC2.mp3"},
		Err:       errors.New("status 404"),
	})

	entry, err := db.Get("1")
	if err != nil {
		t.Fatalf("Get(1) error: %v", err)
	}
	if entry.Status != models.StatusDownloaded || entry.Blake3 != "feed" {
		t.Errorf("ledger entry 1 = %+v", entry)
	}
	failed, err := db.Get("2")
	if err != nil {
		t.Fatalf("Get(2) error: %v", err)
	}
	if failed.Status != models.StatusError || failed.ErrorDetails != "status 404" {
		t.Errorf("ledger entry 2 = %+v", failed)
	}

	hits, total, err := index.Search(idx, "gull", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if total != 1 || len(hits) != 1 || hits[0].ID != "1" {
		t.Errorf("Search(gull) = %d hits (total %d), want only recording 1", len(hits), total)
	}
	if _, total, _ := index.Search(idx, "aluco", 10); total != 0 {
		t.Errorf("failed recording should not be indexed, got %d hits", total)
	}

	// A later skip keeps the hash recorded when the file was downloaded.
	hook(downloader.Event{
		Index:     0,
		Total:     1,
		Recording: gull,
		Result:    downloader.Result{Status: models.StatusSkipped, Folder: "Larus_fuscus", Path: "out/Larus_fuscus/XC1.mp3", Bytes: 10},
	})
	skipped, err := db.Get("1")
	if err != nil {
		t.Fatalf("Get(1) error: %v", err)
	}
	if skipped.Status != models.StatusSkipped || skipped.Blake3 != "feed" {
		t.Errorf("skipped entry = %+v, want status Skipped with hash preserved", skipped)
	}
}

func TestItemFromLedger(t *testing.T) {
	entry := models.LedgerEntry{
		RecordingID: "7",
		Genus:       "Turdus",
		Species:     "merula",
		EnglishName: "Common Blackbird",
		Country:     "Germany",
		Folder:      "Turdus_merula",
		Filename:    "XC7.mp3",
	}
	item := itemFromLedger("out", entry)
	if item.ID != "7" || item.Genus != "Turdus" || item.EnglishName != "Common Blackbird" || item.Country != "Germany" {
		t.Errorf("itemFromLedger() = %+v", item)
	}
	if want := filepath.Join("out", "Turdus_merula", "XC7.mp3"); item.FilePath != want {
		t.Errorf("FilePath = %q, want %q", item.FilePath, want)
	}
}

func TestCleanupEmptyDirs(t *testing.T) {
	root := t.TempDir()
	empty := filepath.Join(root, "Spain", "Larus_fuscus")
	if err := os.MkdirAll(empty, 0750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	kept := filepath.Join(root, "Strix_aluco", "XC2.mp3")
	writeFile(t, kept, "owl")

	cleanupEmptyDirs(empty, root)

	if _, err := os.Stat(filepath.Join(root, "Spain")); !os.IsNotExist(err) {
		t.Errorf("empty parent folders should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("stop directory must survive: %v", err)
	}

	cleanupEmptyDirs(filepath.Dir(kept), root)
	if _, err := os.Stat(kept); err != nil {
		t.Errorf("non-empty folder was touched: %v", err)
	}
}
