package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-xenocanto-download/internal/helpers"
	"go-xenocanto-download/internal/models"
	"go-xenocanto-download/internal/paths"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// Custom Downloader Errors
var (
	ErrMissingFileURL = errors.New("recording has no file URL")
	ErrHttpStatus     = errors.New("unexpected HTTP status code")
	ErrFileSystem     = errors.New("filesystem error") // Covers create, remove, rename
	ErrHttpRequest    = errors.New("HTTP request creation/execution error")
)

const (
	// MetadataFilename is written to the output directory after every batch.
	MetadataFilename = "metadata.csv"

	DefaultTimeout = 60 * time.Second

	chunkSize = 8192
)

// Result describes what happened to a single recording.
type Result struct {
	Status string // models.StatusDownloaded or models.StatusSkipped
	Folder string // species folder, relative to the output directory
	Path   string
	Bytes  int64
	Blake3 string // hex digest; empty for skipped files
}

// Event is passed to OnResult after each record of a batch.
type Event struct {
	Index     int
	Total     int
	Recording *models.Recording
	Result    Result
	Err       error
}

// Downloader fetches recording audio files into species folders below OutputDir.
type Downloader struct {
	client    *http.Client
	outputDir string

	// FolderPattern controls the species folder layout; see paths.GeneratePath.
	FolderPattern string
	// Progress, when set, receives a byte progress bar per file.
	Progress io.Writer
	// OnResult, when set, is called once per processed record.
	OnResult func(Event)
}

// DownloadInfo summarises what is already on disk.
type DownloadInfo struct {
	TotalFiles     int
	TotalBytes     int64
	TotalSizeMB    float64
	SpeciesCount   int
	SpeciesFolders []string
}

// NewDownloader creates a new Downloader instance and its output directory.
func NewDownloader(client *http.Client, outputDir string) (*Downloader, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if outputDir == "" {
		return nil, fmt.Errorf("%w: output directory is required", ErrFileSystem)
	}
	if !helpers.CheckAndMakeDir(outputDir) {
		return nil, fmt.Errorf("%w: failed to create output directory %s", ErrFileSystem, outputDir)
	}
	return &Downloader{
		client:        client,
		outputDir:     outputDir,
		FolderPattern: paths.DefaultFolderPattern,
	}, nil
}

// OutputDir returns the root directory files are written to.
func (d *Downloader) OutputDir() string {
	return d.outputDir
}

// SpeciesFolder returns the folder name for rec, relative to the output
// directory. Different species may sanitize to the same folder; they share it.
func (d *Downloader) SpeciesFolder(rec *models.Recording) string {
	gen := strings.TrimSpace(rec.Genus)
	if gen == "" {
		gen = "Unknown"
	}
	data := map[string]string{
		"gen": gen,
		"sp":  rec.Species,
		"ssp": rec.Subspecies,
		"en":  rec.EnglishName,
		"grp": rec.Group,
		"cnt": rec.Country,
		"id":  rec.ID,
	}

	pattern := d.FolderPattern
	if pattern == "" {
		pattern = paths.DefaultFolderPattern
	}
	folder, err := paths.GeneratePath(pattern, data)
	if err != nil {
		log.WithError(err).Warnf("Folder pattern %q failed for recording %s, using default layout", pattern, rec.ID)
		folder, _ = paths.GeneratePath(paths.DefaultFolderPattern, data)
	}
	return folder
}

// TargetFilename is the server-provided file name or XC<id>.mp3, sanitized.
func (d *Downloader) TargetFilename(rec *models.Recording) string {
	name := strings.TrimSpace(rec.FileName)
	if name == "" {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			id = "unknown"
		}
		name = "XC" + id + ".mp3"
	}
	name = paths.SanitizeName(name)
	if name == "" {
		name = "XCunknown.mp3"
	}
	return name
}

// normalizeURL prefixes schema-relative and scheme-less URLs with https:.
func normalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if strings.HasPrefix(u, "http") {
		return u
	}
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return "https://" + strings.TrimLeft(u, "/")
}

// ProcessOne downloads a single recording. A recording without a file URL
// is an error. With skipExisting and a file already at the target path it
// returns a skipped result without touching the network.
func (d *Downloader) ProcessOne(ctx context.Context, rec *models.Recording, skipExisting bool) (Result, error) {
	folder := d.SpeciesFolder(rec)
	filename := d.TargetFilename(rec)
	targetDir := filepath.Join(d.outputDir, folder)
	targetPath := filepath.Join(targetDir, filename)
	result := Result{Folder: folder, Path: targetPath}

	logger := log.WithFields(log.Fields{"id": rec.ID, "path": targetPath})

	// A recording without a URL fails even when a file is already on disk.
	if strings.TrimSpace(rec.File) == "" {
		logger.Warn("Recording has no file URL")
		return result, fmt.Errorf("%w: recording %s", ErrMissingFileURL, rec.ID)
	}

	if skipExisting {
		if info, err := os.Stat(targetPath); err == nil && !info.IsDir() {
			logger.Debug("File exists, skipping")
			result.Status = models.StatusSkipped
			result.Bytes = info.Size()
			return result, nil
		}
	}

	fileURL := normalizeURL(rec.File)

	if !helpers.CheckAndMakeDir(targetDir) {
		return result, fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, targetDir)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return result, fmt.Errorf("%w: creating download request for %s: %w", ErrHttpRequest, fileURL, err)
	}

	logger.Debugf("Downloading %s", fileURL)
	resp, err := d.client.Do(req)
	if err != nil {
		logger.WithError(err).Error("Error performing download request")
		return result, fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Errorf("Received status code %d from %s", resp.StatusCode, fileURL)
		return result, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, fileURL)
	}

	tempFile, err := os.CreateTemp(targetDir, filename+".*.tmp")
	if err != nil {
		return result, fmt.Errorf("%w: creating temporary file for %s: %w", ErrFileSystem, targetPath, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			_ = tempFile.Close()
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	hasher := blake3.New()
	counter := &helpers.CounterWriter{Writer: io.MultiWriter(tempFile, hasher)}
	var sink io.Writer = counter
	var bar *progressbar.ProgressBar
	if d.Progress != nil {
		bar = progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(d.Progress),
			progressbar.OptionSetDescription(filename),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		sink = io.MultiWriter(counter, bar)
	}

	if err := copyChunks(ctx, sink, resp.Body); err != nil {
		return result, fmt.Errorf("%w: writing %s: %w", ErrHttpRequest, targetPath, err)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if err := tempFile.Close(); err != nil {
		return result, fmt.Errorf("%w: closing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return result, fmt.Errorf("%w: renaming temporary file %s to %s: %w", ErrFileSystem, tempFile.Name(), targetPath, err)
	}
	shouldCleanupTemp = false

	result.Status = models.StatusDownloaded
	result.Bytes = int64(counter.Total)
	result.Blake3 = hex.EncodeToString(hasher.Sum(nil))
	logger.Infof("Downloaded %s (%s)", filename, helpers.BytesToSize(counter.Total))
	return result, nil
}

// copyChunks streams src to dst in fixed-size chunks, stopping early if ctx is done.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// DownloadAll processes recs sequentially in input order. A failing record is
// counted and the batch continues; cancelling ctx stops the batch and returns
// ctx.Err() without writing the metadata table. After a complete pass,
// metadata.csv is written once for all input records.
func (d *Downloader) DownloadAll(ctx context.Context, recs []models.Recording, skipExisting bool) (models.DownloadStats, error) {
	var stats models.DownloadStats
	if len(recs) == 0 {
		log.Info("No recordings to download")
		return stats, nil
	}

	for i := range recs {
		if err := ctx.Err(); err != nil {
			log.Warnf("Batch interrupted after %d of %d recordings", i, len(recs))
			return stats, err
		}

		rec := &recs[i]
		result, err := d.ProcessOne(ctx, rec, skipExisting)
		if err != nil && ctx.Err() != nil {
			log.Warnf("Batch interrupted while processing recording %s", rec.ID)
			return stats, ctx.Err()
		}

		switch {
		case err != nil:
			stats.Failed++
			log.WithError(err).Errorf("Failed to download recording %s", rec.ID)
		case result.Status == models.StatusSkipped:
			stats.Skipped++
		default:
			stats.Downloaded++
		}

		if d.OnResult != nil {
			d.OnResult(Event{Index: i, Total: len(recs), Recording: rec, Result: result, Err: err})
		}
	}

	if _, err := d.SaveMetadata(recs); err != nil {
		return stats, err
	}
	return stats, nil
}
