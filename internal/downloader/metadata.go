package downloader

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go-xenocanto-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// SaveMetadata writes metadata.csv for recs into the output directory and
// returns its path. Missing fields are written as empty cells.
func (d *Downloader) SaveMetadata(recs []models.Recording) (string, error) {
	path := filepath.Join(d.outputDir, MetadataFilename)

	// #nosec G304
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: creating %s: %w", ErrFileSystem, path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(models.MetadataColumns); err != nil {
		return "", fmt.Errorf("%w: writing metadata header: %w", ErrFileSystem, err)
	}

	row := make([]string, len(models.MetadataColumns))
	for i := range recs {
		for j, col := range models.MetadataColumns {
			row[j] = recs[i].Field(col)
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("%w: writing metadata row %d: %w", ErrFileSystem, i+1, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("%w: flushing %s: %w", ErrFileSystem, path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: closing %s: %w", ErrFileSystem, path, err)
	}

	log.Infof("Saved metadata for %d recordings to %s", len(recs), path)
	return path, nil
}

// SaveMetadataOnly writes the metadata table without downloading anything.
// An empty input writes nothing.
func (d *Downloader) SaveMetadataOnly(recs []models.Recording) (string, error) {
	if len(recs) == 0 {
		return "", nil
	}
	return d.SaveMetadata(recs)
}

// Info reports the files and species folders found directly below the
// output directory. A missing output directory yields the zero value.
func (d *Downloader) Info() (DownloadInfo, error) {
	var info DownloadInfo

	entries, err := os.ReadDir(d.outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return info, nil
		}
		return info, fmt.Errorf("%w: reading %s: %w", ErrFileSystem, d.outputDir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || isAuxiliaryDir(entry.Name()) {
			continue
		}
		info.SpeciesFolders = append(info.SpeciesFolders, entry.Name())

		folder := filepath.Join(d.outputDir, entry.Name())
		files, err := os.ReadDir(folder)
		if err != nil {
			return info, fmt.Errorf("%w: reading %s: %w", ErrFileSystem, folder, err)
		}
		for _, file := range files {
			if !file.Type().IsRegular() {
				continue
			}
			fi, err := file.Info()
			if err != nil {
				log.WithError(err).Warnf("Could not stat %s", filepath.Join(folder, file.Name()))
				continue
			}
			info.TotalFiles++
			info.TotalBytes += fi.Size()
		}
	}

	sort.Strings(info.SpeciesFolders)
	info.SpeciesCount = len(info.SpeciesFolders)
	info.TotalSizeMB = float64(info.TotalBytes) / (1024 * 1024)
	return info, nil
}

// isAuxiliaryDir reports directories the tool itself keeps in the output
// directory, such as the search index.
func isAuxiliaryDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".bleve")
}
