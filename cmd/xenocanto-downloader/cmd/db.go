package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-xenocanto-download/internal/database"
	"go-xenocanto-download/internal/helpers"
	"go-xenocanto-download/internal/index"
	"go-xenocanto-download/internal/models"
)

// Package-level variables for db subcommand flags
var (
	dbViewStatusFlag  string
	dbVerifyCheckHash bool
	dbSearchLimitFlag int
	dbDeleteKeepFile  bool
	dbRedownloadKeep  bool
)

// Verification outcomes reported by db verify.
const (
	verifyOK       = "OK"
	verifyMissing  = "Missing"
	verifyMismatch = "Hash Mismatch"
)

// dbCmd represents the base command for ledger operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the download ledger",
	Long:  `View, verify, search and manage the recordings stored in the download ledger and search index.`,
}

var dbViewCmd = &cobra.Command{
	Use:   "view",
	Short: "List recordings stored in the ledger",
	RunE:  runDbView,
}

var dbVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that downloaded files exist and match their stored hash",
	Long: `Checks that every downloaded or skipped recording in the ledger is still present
at its expected location and, with --check-hash, that its BLAKE3 hash still
matches the one recorded at download time.`,
	RunE: runDbVerify,
}

var dbSearchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Full-text search over downloaded recordings",
	Long: `Searches the recording index. Plain words match names, recordist, locality and
remarks; field queries such as country:spain or quality:A narrow the result.`,
	Example: `  xenocanto-downloader db search "gull +country:netherlands"`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runDbSearch,
}

var dbDeleteCmd = &cobra.Command{
	Use:   "delete [RECORDING_ID]",
	Short: "Remove a recording from the ledger, the index and disk",
	Args:  cobra.ExactArgs(1),
	RunE:  runDbDelete,
}

var dbRedownloadCmd = &cobra.Command{
	Use:   "redownload [RECORDING_ID]",
	Short: "Download a ledger recording again from its stored file URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runDbRedownload,
}

var dbReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the ledger",
	RunE:  runDbReindex,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbViewCmd)
	dbCmd.AddCommand(dbVerifyCmd)
	dbCmd.AddCommand(dbSearchCmd)
	dbCmd.AddCommand(dbDeleteCmd)
	dbCmd.AddCommand(dbRedownloadCmd)
	dbCmd.AddCommand(dbReindexCmd)

	dbViewCmd.Flags().StringVar(&dbViewStatusFlag, "status", "", "Only show entries with this status (Pending, Downloaded, Skipped, Error)")
	dbVerifyCmd.Flags().BoolVar(&dbVerifyCheckHash, "check-hash", true, "Re-hash existing files and compare with the ledger")
	dbSearchCmd.Flags().IntVar(&dbSearchLimitFlag, "limit", 20, "Maximum number of results")
	dbDeleteCmd.Flags().BoolVar(&dbDeleteKeepFile, "keep-file", false, "Keep the audio file on disk")
	dbRedownloadCmd.Flags().BoolVar(&dbRedownloadKeep, "keep-existing", false, "Do nothing if the file is already present")
}

func openLedger() (*database.DB, error) {
	if globalConfig.DatabasePath == "" {
		return nil, errors.New("database path is not configured")
	}
	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	return db, nil
}

func runDbView(cmd *cobra.Command, args []string) error {
	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := normalizeStatus(dbViewStatusFlag)
	if err != nil {
		return err
	}
	entries, err := db.List(status)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries found in the ledger.")
		return nil
	}
	writeLedgerTable(out, entries)

	counts, err := db.CountByStatus()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal: %d (Downloaded %d, Skipped %d, Error %d, Pending %d)\n", len(entries),
		counts[models.StatusDownloaded], counts[models.StatusSkipped], counts[models.StatusError], counts[models.StatusPending])
	return nil
}

func writeLedgerTable(out io.Writer, entries []models.LedgerEntry) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSpecies\tEnglish Name\tCountry\tFolder\tFilename\tSize\tStatus\tUpdated")
	fmt.Fprintln(tw, "--\t-------\t------------\t-------\t------\t--------\t----\t------\t-------")
	for _, e := range entries {
		fmt.Fprintf(tw, "XC%s\t%s %s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.RecordingID, e.Genus, e.Species, e.EnglishName, e.Country, e.Folder, e.Filename,
			helpers.BytesToSize(uint64(max(e.Bytes, 0))), e.Status,
			time.Unix(e.Timestamp, 0).Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

// normalizeStatus maps a case-insensitive status flag to its stored form.
func normalizeStatus(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	for _, status := range []string{models.StatusPending, models.StatusDownloaded, models.StatusSkipped, models.StatusError} {
		if strings.EqualFold(s, status) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// verifyEntry checks one ledger row against the files below outputDir. It
// returns "" for rows that have no file to check.
func verifyEntry(outputDir string, entry models.LedgerEntry, checkHash bool) string {
	if entry.Status != models.StatusDownloaded && entry.Status != models.StatusSkipped {
		return ""
	}
	path := filepath.Join(outputDir, entry.Folder, entry.Filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return verifyMissing
	}
	if checkHash && entry.Blake3 != "" && !helpers.CheckHash(path, entry.Blake3) {
		return verifyMismatch
	}
	return verifyOK
}

func runDbVerify(cmd *cobra.Command, args []string) error {
	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	checkHash := globalConfig.DB.Verify.CheckHash
	log.Infof("Verifying ledger entries in %s (hash check: %v)", globalConfig.OutputDir, checkHash)

	var checked, ok int
	problems := []models.LedgerEntry{}
	results := map[string]string{}
	err = db.Fold(func(entry models.LedgerEntry) error {
		result := verifyEntry(globalConfig.OutputDir, entry, checkHash)
		if result == "" {
			return nil
		}
		checked++
		if result == verifyOK {
			ok++
			return nil
		}
		problems = append(problems, entry)
		results[entry.RecordingID] = result
		return nil
	})
	if err != nil {
		return fmt.Errorf("error scanning database: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(problems) > 0 {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPath\tProblem")
		fmt.Fprintln(tw, "--\t----\t-------")
		for _, e := range problems {
			fmt.Fprintf(tw, "XC%s\t%s\t%s\n", e.RecordingID, filepath.Join(e.Folder, e.Filename), results[e.RecordingID])
		}
		tw.Flush()
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Checked %d files: %d OK, %d with problems\n", checked, ok, len(problems))
	if len(problems) > 0 {
		fmt.Fprintln(out, "Use 'db redownload <id>' to fetch a file again.")
		return fmt.Errorf("%d files failed verification", len(problems))
	}
	return nil
}

func runDbSearch(cmd *cobra.Command, args []string) error {
	bleveIndex, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return err
	}
	defer bleveIndex.Close()

	q := strings.Join(args, " ")
	hits, total, err := index.Search(bleveIndex, q, dbSearchLimitFlag)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(hits) == 0 {
		fmt.Fprintf(out, "No recordings match %q\n", q)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tScore\tSpecies\tEnglish Name\tCountry\tQuality\tPath")
	fmt.Fprintln(tw, "--\t-----\t-------\t------------\t-------\t-------\t----")
	for _, h := range hits {
		fmt.Fprintf(tw, "XC%s\t%.3f\t%s %s\t%s\t%s\t%s\t%s\n", h.ID, h.Score,
			hitField(h, "genus"), hitField(h, "species"), hitField(h, "englishName"),
			hitField(h, "country"), hitField(h, "quality"), hitField(h, "filePath"))
	}
	tw.Flush()
	fmt.Fprintf(out, "\nShowing %d of %d matches\n", len(hits), total)
	return nil
}

func hitField(h index.Hit, name string) string {
	if v, ok := h.Fields[name]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func runDbDelete(cmd *cobra.Command, args []string) error {
	id := strings.TrimPrefix(strings.ToUpper(args[0]), "XC")

	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	entry, err := db.Get(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("recording XC%s is not in the ledger", id)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if !dbDeleteKeepFile && entry.Filename != "" {
		path := filepath.Join(globalConfig.OutputDir, entry.Folder, entry.Filename)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		fmt.Fprintf(out, "Removed file %s\n", path)
		cleanupEmptyDirs(filepath.Dir(path), filepath.Clean(globalConfig.OutputDir))
	}

	if err := db.Delete(id); err != nil {
		return err
	}

	if bleveIndex, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath); err != nil {
		log.WithError(err).Warn("Search index unavailable, entry not removed from index")
	} else {
		if err := index.DeleteItem(bleveIndex, id); err != nil {
			log.WithError(err).Warnf("Failed to remove XC%s from search index", id)
		}
		bleveIndex.Close()
	}

	fmt.Fprintf(out, "Deleted XC%s from the ledger\n", id)
	return nil
}

func runDbRedownload(cmd *cobra.Command, args []string) error {
	id := strings.TrimPrefix(strings.ToUpper(args[0]), "XC")

	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	entry, err := db.Get(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("recording XC%s is not in the ledger", id)
		}
		return err
	}
	if entry.FileURL == "" {
		return fmt.Errorf("recording XC%s has no stored file URL", id)
	}

	dl, err := newDownloader(globalConfig)
	if err != nil {
		return err
	}
	if globalConfig.Download.ShowProgress {
		dl.Progress = os.Stderr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rec := recordingFromLedger(entry)
	result, dlErr := dl.ProcessOne(ctx, &rec, dbRedownloadKeep)
	updated := ledgerEntryFor(&rec, result, dlErr)
	if err := db.Put(updated); err != nil {
		log.WithError(err).Warnf("Failed to update ledger for recording XC%s", id)
	}
	if dlErr != nil {
		return dlErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s XC%s to %s\n", result.Status, id, result.Path)
	return nil
}

func runDbReindex(cmd *cobra.Command, args []string) error {
	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	bleveIndex, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return err
	}
	defer bleveIndex.Close()

	items := []index.Item{}
	err = db.Fold(func(entry models.LedgerEntry) error {
		if entry.Status == models.StatusDownloaded || entry.Status == models.StatusSkipped {
			items = append(items, itemFromLedger(globalConfig.OutputDir, entry))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error scanning database: %w", err)
	}
	if err := index.IndexItems(bleveIndex, items); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d recordings\n", len(items))
	return nil
}

// itemFromLedger builds an index document from the fields the ledger keeps.
// Fields only known from the catalog response stay empty.
func itemFromLedger(outputDir string, entry models.LedgerEntry) index.Item {
	rec := recordingFromLedger(entry)
	return index.ItemFromRecording(&rec, filepath.Join(outputDir, entry.Folder, entry.Filename))
}

// cleanupEmptyDirs removes empty directories from dir up to, but not
// including, stopAt.
func cleanupEmptyDirs(dir string, stopAt string) {
	for dir != stopAt && dir != "." && dir != "/" {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			log.Debugf("Could not remove empty directory %s: %v", dir, err)
			return
		}
		log.Debugf("Removed empty directory: %s", dir)
		dir = filepath.Dir(dir)
	}
}
