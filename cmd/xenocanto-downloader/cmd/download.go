package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-xenocanto-download/internal/config"
	"go-xenocanto-download/internal/database"
	"go-xenocanto-download/internal/downloader"
	"go-xenocanto-download/internal/index"
	"go-xenocanto-download/internal/models"
	"go-xenocanto-download/internal/query"
)

var (
	downloadCriteria      query.Criteria
	downloadShowQueryFlag bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Search the catalog and download matching recordings",
	Long: `Builds a search query from the filter flags, fetches every result page and
downloads each recording into a folder per species below the output directory.
A metadata.csv describing all matched recordings is written when the batch
completes. Every processed recording is stored in the download ledger and
indexed for 'db search'.`,
	Example: `  xenocanto-downloader download --genus Larus --species fuscus -q A -n 20
  xenocanto-downloader download --country Netherlands --type song --since 7 --yes
  xenocanto-downloader download --english-name "Common Nightingale" --metadata-only`,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	addFilterFlags(downloadCmd, &downloadCriteria)

	f := downloadCmd.Flags()
	f.IntP("max-results", "n", config.DefaultConfigDownloadMaxResults, "Maximum number of recordings to fetch (0 = all)")
	f.Int("per-page", config.DefaultConfigDownloadPerPage, "Results per API page (50-500)")
	f.Bool("skip-existing", config.DefaultConfigDownloadSkipExisting, "Skip recordings whose file already exists")
	f.Bool("metadata-only", config.DefaultConfigDownloadMetadataOnly, "Only write metadata.csv, do not download audio")
	f.BoolP("yes", "y", config.DefaultConfigDownloadSkipConfirmation, "Do not ask for confirmation before downloading")
	f.Bool("progress", config.DefaultConfigDownloadShowProgress, "Show a progress bar per file")
	f.String("folder-pattern", config.DefaultConfigDownloadFolderPattern, "Species folder pattern; tags {gen} {sp} {ssp} {en} {grp} {cnt} {id}")
	f.BoolVar(&downloadShowQueryFlag, "show-query", false, "Print the search query and exit")
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	out := cmd.OutOrStdout()

	q, err := buildQuery(downloadCriteria)
	if err != nil {
		return err
	}
	if downloadShowQueryFlag {
		fmt.Fprintln(out, q)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintf(out, "Search query: %s\n", q)

	if !cfg.Download.SkipConfirmation {
		meta, err := client.GetMetadata(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to query result count: %w", err)
		}
		printDownloadPreview(out, meta, cfg.Download)
		if meta.NumRecordings == 0 {
			fmt.Fprintln(out, "No recordings match the query.")
			return nil
		}
		if !confirm(os.Stdin, out, "Proceed with download? (y/n): ") {
			fmt.Fprintln(out, "Download cancelled.")
			return nil
		}
	}

	start := time.Now()
	recs, err := client.Search(ctx, q, cfg.Download.PerPage, cfg.Download.MaxResults)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	log.Infof("Search returned %d recordings", len(recs))
	if len(recs) == 0 {
		fmt.Fprintln(out, "No recordings match the query.")
		return nil
	}

	dl, err := newDownloader(cfg)
	if err != nil {
		return err
	}

	if cfg.Download.MetadataOnly {
		path, err := dl.SaveMetadataOnly(recs)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved metadata for %d recordings to %s\n", len(recs), path)
		return nil
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer db.Close()

	bleveIndex, err := index.OpenOrCreateIndex(cfg.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warnf("Search index unavailable at %s, downloads will not be indexed", cfg.BleveIndexPath)
		bleveIndex = nil
	} else {
		defer bleveIndex.Close()
	}

	writer := uilive.New()
	writer.Start()

	if cfg.Download.ShowProgress {
		dl.Progress = os.Stderr
	}
	dl.OnResult = recordResult(db, bleveIndex, writer)

	stats, err := dl.DownloadAll(ctx, recs, cfg.Download.SkipExisting)
	writer.Stop()

	printDownloadSummary(out, stats, time.Since(start))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(out, "Download interrupted; metadata.csv was not written.")
		}
		return err
	}
	fmt.Fprintf(out, "Metadata saved to %s\n", filepath.Join(dl.OutputDir(), downloader.MetadataFilename))
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d recordings failed to download", stats.Failed, stats.Total())
	}
	return nil
}

// recordResult returns the per-record hook: it updates the ledger and the
// search index and refreshes the live status line.
func recordResult(db *database.DB, bleveIndex bleve.Index, status *uilive.Writer) func(downloader.Event) {
	return func(e downloader.Event) {
		rec := e.Recording
		entry := ledgerEntryFor(rec, e.Result, e.Err)

		if db != nil {
			if e.Result.Status == models.StatusSkipped {
				if prev, err := db.Get(rec.ID); err == nil && prev.Filename == entry.Filename {
					entry.Blake3 = prev.Blake3
				}
			}
			if err := db.Put(entry); err != nil {
				log.WithError(err).Warnf("Failed to update ledger for recording %s", rec.ID)
			}
		}

		if bleveIndex != nil && e.Err == nil {
			if err := index.IndexItem(bleveIndex, index.ItemFromRecording(rec, e.Result.Path)); err != nil {
				log.WithError(err).Warnf("Failed to index recording %s", rec.ID)
			}
		}

		if status != nil {
			fmt.Fprintf(status, "[%d/%d] %-10s XC%s %s\n", e.Index+1, e.Total, entry.Status, rec.ID, rec.DisplayName())
		}
	}
}

// ledgerEntryFor converts one download outcome into its ledger row.
func ledgerEntryFor(rec *models.Recording, res downloader.Result, err error) models.LedgerEntry {
	entry := models.LedgerEntry{
		RecordingID: rec.ID,
		Genus:       rec.Genus,
		Species:     rec.Species,
		EnglishName: rec.EnglishName,
		Country:     rec.Country,
		Folder:      res.Folder,
		Filename:    filepath.Base(res.Path),
		FileURL:     rec.File,
		Status:      res.Status,
		Blake3:      res.Blake3,
		Bytes:       res.Bytes,
		Timestamp:   time.Now().Unix(),
	}
	if err != nil {
		entry.Status = models.StatusError
		entry.ErrorDetails = err.Error()
		entry.Blake3 = ""
		entry.Bytes = 0
	}
	if entry.Status == "" {
		entry.Status = models.StatusPending
	}
	return entry
}

func printDownloadPreview(out io.Writer, meta models.SearchMetadata, dc models.DownloadConfig) {
	fmt.Fprintln(out, "--- Download Summary ---")
	fmt.Fprintf(out, "Matching recordings: %d\n", meta.NumRecordings)
	fmt.Fprintf(out, "Matching species:    %d\n", meta.NumSpecies)
	toFetch := meta.NumRecordings
	if dc.MaxResults > 0 && dc.MaxResults < toFetch {
		toFetch = dc.MaxResults
	}
	fmt.Fprintf(out, "Recordings to fetch: %d (%d per page)\n", toFetch, dc.PerPage)
	if dc.MetadataOnly {
		fmt.Fprintln(out, "Mode:                metadata only")
	}
	fmt.Fprintln(out, "------------------------")
}

func printDownloadSummary(out io.Writer, stats models.DownloadStats, elapsed time.Duration) {
	fmt.Fprintln(out, "--- Download Complete ---")
	fmt.Fprintf(out, "Downloaded: %d\n", stats.Downloaded)
	fmt.Fprintf(out, "Skipped:    %d\n", stats.Skipped)
	fmt.Fprintf(out, "Failed:     %d\n", stats.Failed)
	fmt.Fprintf(out, "Elapsed:    %s\n", elapsed.Round(time.Second))
}

// Used by db redownload to rebuild a minimal record from a ledger row.
func recordingFromLedger(entry models.LedgerEntry) models.Recording {
	return models.Recording{
		ID:          entry.RecordingID,
		Genus:       entry.Genus,
		Species:     entry.Species,
		EnglishName: entry.EnglishName,
		Country:     entry.Country,
		File:        entry.FileURL,
		FileName:    entry.Filename,
	}
}
