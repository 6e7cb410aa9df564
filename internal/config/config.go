package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go-xenocanto-download/internal/api"
	"go-xenocanto-download/internal/models"
	"go-xenocanto-download/internal/paths"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultOutputDir           = "xc_downloads"
	DefaultDatabaseFile        = "xenocanto.db"    // Relative to OutputDir unless set
	DefaultBleveIndexDir       = "xenocanto.bleve" // Relative to OutputDir unless set
	DefaultLogApiRequests      = false
	DefaultAPIDelayMs          = 100 // milliseconds
	DefaultAPIClientTimeoutSec = 30  // seconds
	DefaultDownloadTimeoutSec  = 60  // seconds, per file
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultConfigFilePath      = "config.toml"
	EnvPrefix                  = "XENOCANTO"

	// Download specific defaults
	DefaultConfigDownloadFolderPattern    = paths.DefaultFolderPattern
	DefaultConfigDownloadPerPage          = 100
	DefaultConfigDownloadMaxResults       = 0 // all
	DefaultConfigDownloadSkipExisting     = true
	DefaultConfigDownloadMetadataOnly     = false
	DefaultConfigDownloadSkipConfirmation = false
	DefaultConfigDownloadShowProgress     = true

	// Torrent defaults
	DefaultConfigTorrentOutputDir   = ""
	DefaultConfigTorrentOverwrite   = false
	DefaultConfigTorrentMagnetLinks = false

	// DB defaults
	DefaultConfigDBVerifyCheckHash = true
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("apikey", "")
	v.SetDefault("apibaseurl", api.XenoCantoApiBaseUrl)
	v.SetDefault("outputdir", DefaultOutputDir)
	v.SetDefault("databasepath", "")   // Derived from OutputDir later
	v.SetDefault("bleveindexpath", "") // Derived from OutputDir later
	v.SetDefault("logapirequests", DefaultLogApiRequests)
	v.SetDefault("apidelayms", DefaultAPIDelayMs)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("downloadtimeoutsec", DefaultDownloadTimeoutSec)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)

	// Download defaults
	v.SetDefault("download.folderpattern", DefaultConfigDownloadFolderPattern)
	v.SetDefault("download.perpage", DefaultConfigDownloadPerPage)
	v.SetDefault("download.maxresults", DefaultConfigDownloadMaxResults)
	v.SetDefault("download.skipexisting", DefaultConfigDownloadSkipExisting)
	v.SetDefault("download.metadataonly", DefaultConfigDownloadMetadataOnly)
	v.SetDefault("download.skipconfirmation", DefaultConfigDownloadSkipConfirmation)
	v.SetDefault("download.showprogress", DefaultConfigDownloadShowProgress)

	// Torrent defaults
	v.SetDefault("torrent.outputdir", DefaultConfigTorrentOutputDir)
	v.SetDefault("torrent.trackers", []string{})
	v.SetDefault("torrent.overwrite", DefaultConfigTorrentOverwrite)
	v.SetDefault("torrent.magnetlinks", DefaultConfigTorrentMagnetLinks)

	// DB defaults
	v.SetDefault("db.verify.checkhash", DefaultConfigDBVerifyCheckHash)
}

// DefaultConfig returns the configuration used when no file, env or flag
// overrides anything. Derived paths are left empty.
func DefaultConfig() models.Config {
	return models.Config{
		OutputDir:           DefaultOutputDir,
		APIBaseURL:          api.XenoCantoApiBaseUrl,
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
		APIDelayMs:          DefaultAPIDelayMs,
		APIClientTimeoutSec: DefaultAPIClientTimeoutSec,
		DownloadTimeoutSec:  DefaultDownloadTimeoutSec,
		Download: models.DownloadConfig{
			FolderPattern: DefaultConfigDownloadFolderPattern,
			PerPage:       DefaultConfigDownloadPerPage,
			MaxResults:    DefaultConfigDownloadMaxResults,
			SkipExisting:  DefaultConfigDownloadSkipExisting,
			ShowProgress:  DefaultConfigDownloadShowProgress,
		},
		Torrent: models.TorrentConfig{
			Trackers: []string{},
		},
		DB: models.DBConfig{
			Verify: models.DBVerifyConfig{CheckHash: DefaultConfigDBVerifyCheckHash},
		},
	}
}

// CliFlags holds pointers to values received from command-line flags.
// Nil fields indicate the flag was not provided by the user.
type CliFlags struct {
	// Global/Persistent Flags
	ConfigFilePath      *string
	EnvFilePath         *string // --env-file
	LogLevel            *string // --log-level
	LogFormat           *string // --log-format
	LogApiRequests      *bool   // --log-api
	OutputDir           *string // --output-dir
	DatabasePath        *string // --db-path
	BleveIndexPath      *string // --index-path
	APIKey              *string // --api-key
	APIDelayMs          *int    // --api-delay
	APIClientTimeoutSec *int    // --api-timeout
	DownloadTimeoutSec  *int    // --download-timeout

	// Command-specific flags nested
	Download *CliDownloadFlags
	Torrent  *CliTorrentFlags
	DB       *CliDBFlags
}

type CliDownloadFlags struct {
	FolderPattern    *string // --folder-pattern
	PerPage          *int    // --per-page
	MaxResults       *int    // -n
	SkipExisting     *bool   // --skip-existing
	MetadataOnly     *bool   // --metadata-only
	SkipConfirmation *bool   // --yes
	ShowProgress     *bool   // --progress
}

type CliTorrentFlags struct {
	AnnounceURLs *[]string // --announce
	OutputDir    *string   // -o
	Overwrite    *bool     // -f
	MagnetLinks  *bool     // --magnet-links
}

type CliDBFlags struct {
	Verify *CliDBVerifyFlags
}

type CliDBVerifyFlags struct {
	CheckHash *bool // --check-hash
}

// loadDotEnv loads KEY=VALUE pairs from path (default ".env") into the
// environment without overriding variables that are already set.
func loadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			log.Debugf("[Initialize] No env file at %s", path)
		} else {
			log.Warnf("[Initialize] Could not load env file %s: %v", path, err)
		}
		return
	}
	log.Debugf("[Initialize] Loaded environment from %s", path)
}

// Initialize loads configuration based on defaults, .env, config file,
// environment and flags. Precedence: Flags > Env > Config File > Defaults.
// The returned RoundTripper logs API traffic when LogApiRequests is set.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	finalCfg := DefaultConfig()

	envFile := ""
	if flags.EnvFilePath != nil {
		envFile = *flags.EnvFilePath
	}
	loadDotEnv(envFile)

	// Initialize Viper
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setViperDefaults(v)

	// Determine config file path
	actualConfigFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil && *flags.ConfigFilePath != "" {
		actualConfigFilePath = *flags.ConfigFilePath
		log.Debugf("[Initialize] Using config file path from CLI flag: %s", actualConfigFilePath)
	} else {
		log.Debugf("[Initialize] Using default config file path: %s", actualConfigFilePath)
	}
	v.SetConfigFile(actualConfigFilePath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			log.Debugf("[Initialize] Config file '%s' not found. Using defaults, environment and CLI flags only.", actualConfigFilePath)
		} else {
			log.Warnf("[Initialize] Error reading config file '%s': %v. Using defaults, environment and CLI flags only.", actualConfigFilePath, err)
		}
	} else {
		log.Infof("[Initialize] Successfully read config file: %s", v.ConfigFileUsed())
	}

	// Unmarshal must run even without a file so defaults and env apply.
	if err := v.Unmarshal(&finalCfg); err != nil {
		log.Errorf("[Initialize] Failed to unmarshal config from Viper: %v", err)
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	applyFlags(&finalCfg, flags)

	if finalCfg.APIKey == "" {
		if key := os.Getenv(api.APIKeyEnvVar); key != "" {
			log.Debugf("[Initialize] Using API key from %s", api.APIKeyEnvVar)
			finalCfg.APIKey = key
		}
	}

	// Derive default paths if empty
	if finalCfg.DatabasePath == "" {
		finalCfg.DatabasePath = filepath.Join(finalCfg.OutputDir, DefaultDatabaseFile)
		log.Debugf("[Initialize] DatabasePath defaulted based on OutputDir: %s", finalCfg.DatabasePath)
	}
	if finalCfg.BleveIndexPath == "" {
		finalCfg.BleveIndexPath = filepath.Join(finalCfg.OutputDir, DefaultBleveIndexDir)
		log.Debugf("[Initialize] BleveIndexPath defaulted based on OutputDir: %s", finalCfg.BleveIndexPath)
	}
	if finalCfg.Torrent.OutputDir == "" {
		finalCfg.Torrent.OutputDir = finalCfg.OutputDir
	}

	if err := Validate(&finalCfg); err != nil {
		return models.Config{}, nil, err
	}

	// Setup HTTP Transport
	var finalTransport http.RoundTripper = http.DefaultTransport
	if finalCfg.LogApiRequests {
		logFilePath := "api.log"
		if finalCfg.OutputDir != "" {
			if err := os.MkdirAll(finalCfg.OutputDir, 0750); err == nil {
				logFilePath = filepath.Join(finalCfg.OutputDir, logFilePath)
			} else {
				log.Warnf("OutputDir '%s' not usable, saving api.log to current directory.", finalCfg.OutputDir)
			}
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			finalTransport = loggingTransport
		}
	}

	log.Debugf("[Initialize] Final merged cfg.Download: %+v", finalCfg.Download)
	return finalCfg, finalTransport, nil
}

func applyFlags(cfg *models.Config, flags CliFlags) {
	if flags.APIKey != nil && *flags.APIKey != "" {
		log.Debugf("[Initialize] Overriding APIKey from flag.")
		cfg.APIKey = *flags.APIKey
	}
	if flags.OutputDir != nil {
		log.Debugf("[Initialize] Overriding OutputDir from flag: '%s'", *flags.OutputDir)
		cfg.OutputDir = *flags.OutputDir
	}
	if flags.DatabasePath != nil && *flags.DatabasePath != "" {
		cfg.DatabasePath = *flags.DatabasePath
	}
	if flags.BleveIndexPath != nil && *flags.BleveIndexPath != "" {
		cfg.BleveIndexPath = *flags.BleveIndexPath
	}
	if flags.LogApiRequests != nil {
		cfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.APIDelayMs != nil {
		log.Debugf("[Initialize] Overriding APIDelayMs from flag: %d", *flags.APIDelayMs)
		cfg.APIDelayMs = *flags.APIDelayMs
	}
	if flags.APIClientTimeoutSec != nil {
		cfg.APIClientTimeoutSec = *flags.APIClientTimeoutSec
	}
	if flags.DownloadTimeoutSec != nil {
		cfg.DownloadTimeoutSec = *flags.DownloadTimeoutSec
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}

	if d := flags.Download; d != nil {
		log.Debugf("[Initialize] Processing Download CLI flags")
		if d.FolderPattern != nil {
			cfg.Download.FolderPattern = *d.FolderPattern
		}
		if d.PerPage != nil {
			cfg.Download.PerPage = *d.PerPage
		}
		if d.MaxResults != nil {
			cfg.Download.MaxResults = *d.MaxResults
		}
		if d.SkipExisting != nil {
			cfg.Download.SkipExisting = *d.SkipExisting
		}
		if d.MetadataOnly != nil {
			cfg.Download.MetadataOnly = *d.MetadataOnly
		}
		if d.SkipConfirmation != nil {
			cfg.Download.SkipConfirmation = *d.SkipConfirmation
		}
		if d.ShowProgress != nil {
			cfg.Download.ShowProgress = *d.ShowProgress
		}
	}

	if tf := flags.Torrent; tf != nil {
		if tf.AnnounceURLs != nil && len(*tf.AnnounceURLs) > 0 {
			cfg.Torrent.Trackers = *tf.AnnounceURLs
		}
		if tf.OutputDir != nil && *tf.OutputDir != "" {
			cfg.Torrent.OutputDir = *tf.OutputDir
		}
		if tf.Overwrite != nil {
			cfg.Torrent.Overwrite = *tf.Overwrite
		}
		if tf.MagnetLinks != nil {
			cfg.Torrent.MagnetLinks = *tf.MagnetLinks
		}
	}

	if flags.DB != nil && flags.DB.Verify != nil && flags.DB.Verify.CheckHash != nil {
		cfg.DB.Verify.CheckHash = *flags.DB.Verify.CheckHash
	}
}

// Validate checks the values a command relies on.
func Validate(cfg *models.Config) error {
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return fmt.Errorf("%w: OutputDir cannot be empty (set via --output-dir flag or OutputDir in config)", ErrInvalidConfig)
	}
	if cfg.Download.PerPage < api.MinPerPage || cfg.Download.PerPage > api.MaxPerPage {
		return fmt.Errorf("%w: Download.PerPage must be between %d and %d, got %d", ErrInvalidConfig, api.MinPerPage, api.MaxPerPage, cfg.Download.PerPage)
	}
	if cfg.Download.MaxResults < 0 {
		return fmt.Errorf("%w: Download.MaxResults cannot be negative", ErrInvalidConfig)
	}
	if cfg.APIClientTimeoutSec <= 0 {
		return fmt.Errorf("%w: ApiClientTimeoutSec must be positive, got %d", ErrInvalidConfig, cfg.APIClientTimeoutSec)
	}
	if cfg.DownloadTimeoutSec < 0 {
		return fmt.Errorf("%w: DownloadTimeoutSec cannot be negative, got %d", ErrInvalidConfig, cfg.DownloadTimeoutSec)
	}
	if err := paths.ValidatePattern(cfg.Download.FolderPattern); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: LogFormat must be text or json, got %q", ErrInvalidConfig, cfg.LogFormat)
	}
	if _, err := log.ParseLevel(cfg.LogLevel); cfg.LogLevel != "" && err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Render encodes cfg as TOML. The API key is masked.
func Render(cfg models.Config) (string, error) {
	if cfg.APIKey != "" {
		cfg.APIKey = "********"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return "", fmt.Errorf("encoding config as TOML: %w", err)
	}
	return buf.String(), nil
}

// WriteDefault writes the default configuration to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if path == "" {
		path = DefaultConfigFilePath
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating config directory %s: %w", dir, err)
		}
	}

	// #nosec G304
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return f.Close()
}
