package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-xenocanto-download/internal/api"
	"go-xenocanto-download/internal/config"
	"go-xenocanto-download/internal/models"
)

// Persistent flag values. Only flags the user actually set are forwarded to
// config.Initialize; see buildCliFlags.
var (
	cfgFile             string
	envFile             string
	logLevel            string
	logFormat           string
	logApiFlag          bool
	outputDirFlag       string
	dbPathFlag          string
	indexPathFlag       string
	apiKeyFlag          string
	apiDelayFlag        int
	apiTimeoutFlag      int
	downloadTimeoutFlag int
)

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xenocanto-downloader",
	Short: "Search and download wildlife sound recordings from Xeno-canto",
	Long: `Xeno-canto Downloader builds catalog queries from filter flags, walks
the paginated search results and saves the audio files into one folder per
species, together with a metadata.csv describing every recording.`,
	PersistentPreRunE: loadGlobalConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		api.CloseAllLoggingTransports()
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		api.CloseAllLoggingTransports()
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml)")
	pf.StringVar(&envFile, "env-file", "", "Environment file loaded before configuration (default is ./.env)")
	pf.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Logging level (trace, debug, info, warn, error, fatal, panic)")
	pf.StringVar(&logFormat, "log-format", config.DefaultLogFormat, "Logging format (text, json)")
	pf.BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	pf.StringVarP(&outputDirFlag, "output-dir", "o", "", "Directory recordings are saved to (overrides config)")
	pf.StringVar(&dbPathFlag, "db-path", "", "Download ledger path (default <output-dir>/"+config.DefaultDatabaseFile+")")
	pf.StringVar(&indexPathFlag, "index-path", "", "Search index path (default <output-dir>/"+config.DefaultBleveIndexDir+")")
	pf.StringVar(&apiKeyFlag, "api-key", "", "Xeno-canto API key (overrides config and "+api.APIKeyEnvVar+")")
	pf.IntVar(&apiDelayFlag, "api-delay", config.DefaultAPIDelayMs, "Delay between result pages in ms (overrides config)")
	pf.IntVar(&apiTimeoutFlag, "api-timeout", config.DefaultAPIClientTimeoutSec, "Timeout for API requests in seconds (overrides config)")
	pf.IntVar(&downloadTimeoutFlag, "download-timeout", config.DefaultDownloadTimeoutSec, "Timeout for a single file download in seconds (overrides config)")
}

// loadGlobalConfig loads the configuration and applies flag overrides.
// It also sets up the global HTTP transport based on logging settings.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	// Early logging so messages emitted while loading config honour the flags.
	initLogging(logLevel, logFormat)

	cfg, transport, err := config.Initialize(buildCliFlags(cmd))
	if err != nil {
		return err
	}

	initLogging(cfg.LogLevel, cfg.LogFormat)
	globalConfig = cfg
	globalHttpTransport = transport
	log.Debugf("Configuration loaded; output directory %s", cfg.OutputDir)
	return nil
}

// buildCliFlags collects the flags the user set on cmd into config.CliFlags.
func buildCliFlags(cmd *cobra.Command) config.CliFlags {
	flags := config.CliFlags{
		ConfigFilePath:      changedString(cmd, "config"),
		EnvFilePath:         changedString(cmd, "env-file"),
		LogLevel:            changedString(cmd, "log-level"),
		LogFormat:           changedString(cmd, "log-format"),
		LogApiRequests:      changedBool(cmd, "log-api"),
		OutputDir:           changedString(cmd, "output-dir"),
		DatabasePath:        changedString(cmd, "db-path"),
		BleveIndexPath:      changedString(cmd, "index-path"),
		APIKey:              changedString(cmd, "api-key"),
		APIDelayMs:          changedInt(cmd, "api-delay"),
		APIClientTimeoutSec: changedInt(cmd, "api-timeout"),
		DownloadTimeoutSec:  changedInt(cmd, "download-timeout"),
	}

	flags.Download = &config.CliDownloadFlags{
		FolderPattern:    changedString(cmd, "folder-pattern"),
		PerPage:          changedInt(cmd, "per-page"),
		MaxResults:       changedInt(cmd, "max-results"),
		SkipExisting:     changedBool(cmd, "skip-existing"),
		MetadataOnly:     changedBool(cmd, "metadata-only"),
		SkipConfirmation: changedBool(cmd, "yes"),
		ShowProgress:     changedBool(cmd, "progress"),
	}
	flags.Torrent = &config.CliTorrentFlags{
		AnnounceURLs: changedStringSlice(cmd, "announce"),
		OutputDir:    changedString(cmd, "torrent-dir"),
		Overwrite:    changedBool(cmd, "overwrite"),
		MagnetLinks:  changedBool(cmd, "magnet-links"),
	}
	flags.DB = &config.CliDBFlags{
		Verify: &config.CliDBVerifyFlags{CheckHash: changedBool(cmd, "check-hash")},
	}
	return flags
}

func changedString(cmd *cobra.Command, name string) *string {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}
	v := f.Value.String()
	return &v
}

func changedInt(cmd *cobra.Command, name string) *int {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		log.WithError(err).Warnf("Ignoring flag --%s", name)
		return nil
	}
	return &v
}

func changedBool(cmd *cobra.Command, name string) *bool {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		log.WithError(err).Warnf("Ignoring flag --%s", name)
		return nil
	}
	return &v
}

func changedStringSlice(cmd *cobra.Command, name string) *[]string {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}
	v, err := cmd.Flags().GetStringSlice(name)
	if err != nil {
		log.WithError(err).Warnf("Ignoring flag --%s", name)
		return nil
	}
	return &v
}

// initLogging configures logrus level and formatter. Unknown levels fall
// back to info.
func initLogging(level, format string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
