package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-xenocanto-download/internal/helpers"
	"go-xenocanto-download/internal/models"
)

const torrentPieceLength = 512 * 1024 // 512 KiB

// torrentJob is one species folder to package.
type torrentJob struct {
	SourcePath     string
	Name           string
	OutputDir      string
	Trackers       []string
	Overwrite      bool
	GenerateMagnet bool
}

func torrentWorker(id int, jobs <-chan torrentJob, wg *sync.WaitGroup, successCounter, failureCounter *atomic.Int64) {
	defer wg.Done()
	for job := range jobs {
		logger := log.WithFields(log.Fields{"worker": id, "folder": job.SourcePath})
		torrentPath, magnetPath, _, err := generateTorrentFile(job.SourcePath, job.Name, job.Trackers, job.OutputDir, job.Overwrite, job.GenerateMagnet)
		if err != nil {
			logger.WithError(err).Error("Failed to generate torrent")
			failureCounter.Add(1)
			continue
		}
		logger.WithField("torrent", torrentPath).Info("Torrent ready")
		if magnetPath != "" {
			logger.WithField("magnet", magnetPath).Debug("Magnet link ready")
		}
		successCounter.Add(1)
	}
}

var (
	torrentFolderFlag      string
	torrentConcurrencyFlag int
)

var torrentCmd = &cobra.Command{
	Use:   "torrent",
	Short: "Generate .torrent files for downloaded species folders",
	Long: `Generates one BitTorrent metainfo (.torrent) file per species folder that holds
downloaded recordings, or one for the folder given with --folder. Folders are
taken from the download ledger. At least one tracker announce URL is required.`,
	Example: `  xenocanto-downloader torrent --announce udp://tracker.example.org:1337/announce --magnet-links
  xenocanto-downloader torrent --folder Larus_fuscus --announce https://tracker.example.org/announce`,
	RunE: runTorrent,
}

func init() {
	rootCmd.AddCommand(torrentCmd)

	torrentCmd.Flags().StringSlice("announce", []string{}, "Tracker announce URL (repeatable)")
	torrentCmd.Flags().String("torrent-dir", "", "Directory to save generated .torrent files (default: the output directory)")
	torrentCmd.Flags().Bool("overwrite", false, "Overwrite existing .torrent and magnet files")
	torrentCmd.Flags().Bool("magnet-links", false, "Write a -magnet.txt file next to each .torrent file")
	torrentCmd.Flags().StringVar(&torrentFolderFlag, "folder", "", "Only package this species folder (relative to the output directory)")
	torrentCmd.Flags().IntVar(&torrentConcurrencyFlag, "concurrency", 4, "Number of concurrent torrent generation workers")
}

func runTorrent(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	if len(cfg.Torrent.Trackers) == 0 {
		return errors.New("at least one --announce URL is required")
	}
	concurrency := torrentConcurrencyFlag
	if concurrency <= 0 {
		log.Warnf("Invalid concurrency value %d, defaulting to 4", concurrency)
		concurrency = 4
	}

	var folders []string
	if torrentFolderFlag != "" {
		folders = []string{filepath.Clean(torrentFolderFlag)}
	} else {
		db, err := openLedger()
		if err != nil {
			return err
		}
		folders, err = ledgerFolders(db.Fold)
		db.Close()
		if err != nil {
			return fmt.Errorf("error scanning database: %w", err)
		}
	}

	if len(folders) == 0 {
		log.Info("No downloaded species folders found in the ledger.")
		return nil
	}

	log.Infof("Generating torrents for %d species folders using %d workers...", len(folders), concurrency)

	jobs := make(chan torrentJob, concurrency)
	var wg sync.WaitGroup
	var successCounter, failureCounter atomic.Int64
	for i := 1; i <= concurrency; i++ {
		wg.Add(1)
		go torrentWorker(i, jobs, &wg, &successCounter, &failureCounter)
	}
	for _, folder := range folders {
		jobs <- torrentJob{
			SourcePath:     filepath.Join(cfg.OutputDir, folder),
			Name:           torrentName(folder),
			OutputDir:      cfg.Torrent.OutputDir,
			Trackers:       cfg.Torrent.Trackers,
			Overwrite:      cfg.Torrent.Overwrite,
			GenerateMagnet: cfg.Torrent.MagnetLinks,
		}
	}
	close(jobs)
	wg.Wait()

	successCount, failCount := successCounter.Load(), failureCounter.Load()
	fmt.Fprintf(cmd.OutOrStdout(), "Torrent generation complete. Success: %d, Failed: %d\n", successCount, failCount)
	if failCount > 0 {
		return fmt.Errorf("%d torrents failed to generate", failCount)
	}
	return nil
}

// ledgerFolders returns the sorted distinct folders of recordings that are
// on disk according to the ledger.
func ledgerFolders(fold func(func(models.LedgerEntry) error) error) ([]string, error) {
	seen := map[string]struct{}{}
	err := fold(func(entry models.LedgerEntry) error {
		if entry.Folder == "" {
			return nil
		}
		if entry.Status != models.StatusDownloaded && entry.Status != models.StatusSkipped {
			return nil
		}
		seen[entry.Folder] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	folders := make([]string, 0, len(seen))
	for f := range seen {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	return folders, nil
}

// torrentName flattens a nested folder such as "Spain/Larus_fuscus" so
// torrents from different parents do not collide in one output directory.
func torrentName(folder string) string {
	return strings.ReplaceAll(filepath.ToSlash(filepath.Clean(folder)), "/", "_")
}

// generateTorrentFile creates name.torrent for the directory sourcePath and,
// optionally, a text file with its magnet link. Existing files are left alone
// unless overwrite is set.
func generateTorrentFile(sourcePath, name string, trackers []string, outputDir string, overwrite, generateMagnetLinks bool) (torrentFilePath, magnetFilePath, magnetURI string, err error) {
	if err := validateSourcePath(sourcePath); err != nil {
		return "", "", "", err
	}
	if name == "" {
		name = filepath.Base(sourcePath)
	}

	outPath, err := determineOutputPath(sourcePath, name, outputDir)
	if err != nil {
		return "", "", "", err
	}
	torrentFilePath = outPath

	if existingMagnetPath, skip := checkExistingFiles(outPath, overwrite, generateMagnetLinks); skip {
		return torrentFilePath, existingMagnetPath, "", nil
	}

	mi, info, err := createTorrentMetainfo(sourcePath, trackers)
	if err != nil {
		return "", "", "", err
	}
	if err := writeTorrentFile(outPath, mi); err != nil {
		return torrentFilePath, "", "", err
	}
	log.WithField("path", outPath).Info("Successfully generated torrent file")

	magnetURI = generateMagnetURI(mi, info)
	if generateMagnetLinks {
		magnetFilePath = handleMagnetFileGeneration(outPath, magnetURI, overwrite)
	}
	return torrentFilePath, magnetFilePath, magnetURI, nil
}

func validateSourcePath(sourcePath string) error {
	stat, err := os.Stat(sourcePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("source path does not exist: %s", sourcePath)
	}
	if err != nil {
		return fmt.Errorf("error stating source path %s: %w", sourcePath, err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("source path is not a directory: %s", sourcePath)
	}
	return nil
}

// determineOutputPath places the torrent in outputDir, or inside the source
// folder when outputDir is empty.
func determineOutputPath(sourcePath, name, outputDir string) (string, error) {
	torrentFileName := name + ".torrent"
	if outputDir == "" {
		return filepath.Join(sourcePath, torrentFileName), nil
	}
	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return "", fmt.Errorf("error creating output directory %s: %w", outputDir, err)
	}
	return filepath.Join(outputDir, torrentFileName), nil
}

func magnetPathFor(torrentPath string) string {
	base := strings.TrimSuffix(filepath.Base(torrentPath), filepath.Ext(torrentPath))
	return filepath.Join(filepath.Dir(torrentPath), base+"-magnet.txt")
}

// checkExistingFiles reports whether generation should be skipped because
// the torrent exists and overwrite is off. The existing magnet file path is
// returned alongside when present.
func checkExistingFiles(outPath string, overwrite, generateMagnetLinks bool) (string, bool) {
	_, err := os.Stat(outPath)
	switch {
	case err == nil && !overwrite:
		log.WithField("path", outPath).Info("Skipping existing torrent file (use --overwrite to replace)")
		if generateMagnetLinks {
			if magnetOutPath := magnetPathFor(outPath); fileExists(magnetOutPath) {
				return magnetOutPath, true
			}
		}
		return "", true
	case err == nil:
		log.WithField("path", outPath).Warn("Overwriting existing torrent file")
	case !os.IsNotExist(err):
		log.WithError(err).WithField("path", outPath).Warn("Could not check existing torrent file, attempting to create/overwrite")
	}
	return "", false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func createTorrentMetainfo(sourcePath string, trackers []string) (*metainfo.MetaInfo, metainfo.Info, error) {
	mi := metainfo.MetaInfo{}

	validTrackers := validateTrackers(trackers)
	if len(validTrackers) > 0 {
		mi.Announce = validTrackers[0]
		mi.AnnounceList = [][]string{validTrackers}
	} else {
		log.Error("No valid tracker URLs could be added to the torrent.")
	}
	mi.CreatedBy = "xenocanto-downloader"
	mi.CreationDate = time.Now().Unix()

	info := metainfo.Info{
		PieceLength: torrentPieceLength,
		Name:        filepath.Base(sourcePath),
	}
	if err := info.BuildFromFilePath(sourcePath); err != nil {
		return nil, metainfo.Info{}, fmt.Errorf("error building torrent info from path %s: %w", sourcePath, err)
	}
	if len(info.Files) == 0 && info.Length == 0 {
		log.WithField("path", sourcePath).Warn("Source directory is empty. Torrent will contain no files.")
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, metainfo.Info{}, fmt.Errorf("error marshaling torrent info: %w", err)
	}
	mi.InfoBytes = infoBytes
	return &mi, info, nil
}

// validateTrackers keeps http, https and udp announce URLs.
func validateTrackers(trackers []string) []string {
	valid := make([]string, 0, len(trackers))
	for _, tracker := range trackers {
		if !isTrackerURL(tracker) {
			log.WithField("tracker", tracker).Warn("Invalid or unsupported tracker URL provided, skipping.")
			continue
		}
		valid = append(valid, tracker)
	}
	return valid
}

func isTrackerURL(tracker string) bool {
	u, err := url.Parse(tracker)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "udp"
}

func writeTorrentFile(outPath string, mi *metainfo.MetaInfo) error {
	f, err := os.Create(helpers.SanitizePath(outPath))
	if err != nil {
		return fmt.Errorf("error creating torrent file %s: %w", outPath, err)
	}
	if err := mi.Write(f); err != nil {
		f.Close()
		os.Remove(outPath)
		return fmt.Errorf("error writing torrent file %s: %w", outPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("error closing torrent file %s: %w", outPath, err)
	}
	return nil
}

// generateMagnetURI builds a magnet link with the info hash, display name and
// each distinct tracker.
func generateMagnetURI(mi *metainfo.MetaInfo, info metainfo.Info) string {
	infoHash := mi.HashInfoBytes()
	parts := []string{
		"magnet:?xt=urn:btih:" + infoHash.HexString(),
		"dn=" + url.QueryEscape(info.Name),
	}

	seen := map[string]struct{}{}
	add := func(tracker string) {
		if _, ok := seen[tracker]; ok || !isTrackerURL(tracker) {
			return
		}
		seen[tracker] = struct{}{}
		parts = append(parts, "tr="+url.QueryEscape(tracker))
	}
	if mi.Announce != "" {
		add(mi.Announce)
	}
	for _, tier := range mi.AnnounceList {
		for _, tracker := range tier {
			add(tracker)
		}
	}
	return strings.Join(parts, "&")
}

func handleMagnetFileGeneration(outPath, magnetURI string, overwrite bool) string {
	magnetOutPath := magnetPathFor(outPath)
	if fileExists(magnetOutPath) && !overwrite {
		log.WithField("path", magnetOutPath).Info("Skipping existing magnet link file (use --overwrite to replace)")
		return magnetOutPath
	}
	if err := os.WriteFile(helpers.SanitizePath(magnetOutPath), []byte(magnetURI), 0600); err != nil {
		log.WithError(err).WithField("path", magnetOutPath).Error("Failed to write magnet link file")
		return ""
	}
	return magnetOutPath
}
