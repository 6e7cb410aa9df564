package config

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-xenocanto-download/internal/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// isolate clears the environment variables Initialize reads and points it
// at a config file that does not exist.
func isolate(t *testing.T) CliFlags {
	t.Helper()
	t.Setenv(api.APIKeyEnvVar, "")
	for _, k := range []string{"APIKEY", "OUTPUTDIR", "DOWNLOAD_PERPAGE", "LOGLEVEL"} {
		t.Setenv(EnvPrefix+"_"+k, "")
		os.Unsetenv(EnvPrefix + "_" + k)
	}
	dir := t.TempDir()
	return CliFlags{
		ConfigFilePath: ptr(filepath.Join(dir, "missing.toml")),
		EnvFilePath:    ptr(filepath.Join(dir, "missing.env")),
	}
}

// TestConfigInitialization tests basic configuration initialization
func TestConfigInitialization(t *testing.T) {
	cfg, transport, err := Initialize(isolate(t))
	require.NoError(t, err, "Failed to initialize config")

	assert.Equal(t, DefaultOutputDir, cfg.OutputDir)
	assert.Equal(t, filepath.Join(DefaultOutputDir, "xenocanto.db"), cfg.DatabasePath)
	assert.Equal(t, filepath.Join(DefaultOutputDir, "xenocanto.bleve"), cfg.BleveIndexPath)
	assert.Equal(t, 100, cfg.Download.PerPage)
	assert.Equal(t, 0, cfg.Download.MaxResults)
	assert.True(t, cfg.Download.SkipExisting)
	assert.Equal(t, "{gen}_{sp}", cfg.Download.FolderPattern)
	assert.Equal(t, 100, cfg.APIDelayMs)
	assert.Equal(t, 30, cfg.APIClientTimeoutSec)
	assert.Equal(t, 60, cfg.DownloadTimeoutSec)
	assert.Equal(t, api.XenoCantoApiBaseUrl, cfg.APIBaseURL)
	assert.True(t, cfg.DB.Verify.CheckHash)
	assert.Equal(t, http.DefaultTransport, transport, "No logging transport unless requested")
}

// TestFlagOverrides tests that CLI flags override default values
func TestFlagOverrides(t *testing.T) {
	flags := isolate(t)
	out := t.TempDir()
	flags.OutputDir = ptr(out)
	flags.APIKey = ptr("flag-key")
	flags.Download = &CliDownloadFlags{
		PerPage:      ptr(250),
		MaxResults:   ptr(20),
		SkipExisting: ptr(false),
	}
	flags.Torrent = &CliTorrentFlags{AnnounceURLs: &[]string{"udp://tracker.example:1337/announce"}}

	cfg, _, err := Initialize(flags)
	require.NoError(t, err)

	assert.Equal(t, out, cfg.OutputDir)
	assert.Equal(t, filepath.Join(out, "xenocanto.db"), cfg.DatabasePath, "DatabasePath follows OutputDir")
	assert.Equal(t, out, cfg.Torrent.OutputDir)
	assert.Equal(t, "flag-key", cfg.APIKey)
	assert.Equal(t, 250, cfg.Download.PerPage)
	assert.Equal(t, 20, cfg.Download.MaxResults)
	assert.False(t, cfg.Download.SkipExisting)
	assert.Equal(t, []string{"udp://tracker.example:1337/announce"}, cfg.Torrent.Trackers)
}

func TestConfigFileAndEnvironment(t *testing.T) {
	flags := isolate(t)
	dir := t.TempDir()

	configPath := filepath.Join(dir, "config.toml")
	content := `
OutputDir = "from-file"
ApiDelayMs = 250

[Download]
PerPage = 500
FolderPattern = "{grp}/{gen}_{sp}"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	flags.ConfigFilePath = ptr(configPath)

	t.Setenv("XENOCANTO_APIDELAYMS", "0")

	cfg, _, err := Initialize(flags)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.OutputDir)
	assert.Equal(t, 500, cfg.Download.PerPage)
	assert.Equal(t, "{grp}/{gen}_{sp}", cfg.Download.FolderPattern)
	assert.Equal(t, 0, cfg.APIDelayMs, "Environment overrides the config file")
}

func TestAPIKeySources(t *testing.T) {
	t.Run("dotenv file", func(t *testing.T) {
		flags := isolate(t)
		os.Unsetenv(api.APIKeyEnvVar)
		envPath := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(envPath, []byte(api.APIKeyEnvVar+"=dotenv-key\n"), 0600))
		flags.EnvFilePath = ptr(envPath)
		t.Cleanup(func() { os.Unsetenv(api.APIKeyEnvVar) })

		cfg, _, err := Initialize(flags)
		require.NoError(t, err)
		assert.Equal(t, "dotenv-key", cfg.APIKey)
	})

	t.Run("flag wins over environment", func(t *testing.T) {
		flags := isolate(t)
		t.Setenv(api.APIKeyEnvVar, "env-key")
		flags.APIKey = ptr("flag-key")

		cfg, _, err := Initialize(flags)
		require.NoError(t, err)
		assert.Equal(t, "flag-key", cfg.APIKey)
	})

	t.Run("original environment variable", func(t *testing.T) {
		flags := isolate(t)
		t.Setenv(api.APIKeyEnvVar, "env-key")

		cfg, _, err := Initialize(flags)
		require.NoError(t, err)
		assert.Equal(t, "env-key", cfg.APIKey)
	})
}

// TestConfigValidation tests configuration validation for critical values
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		flags func(f *CliFlags)
	}{
		{name: "page size too small", flags: func(f *CliFlags) { f.Download = &CliDownloadFlags{PerPage: ptr(49)} }},
		{name: "page size too large", flags: func(f *CliFlags) { f.Download = &CliDownloadFlags{PerPage: ptr(501)} }},
		{name: "negative max results", flags: func(f *CliFlags) { f.Download = &CliDownloadFlags{MaxResults: ptr(-1)} }},
		{name: "unknown folder tag", flags: func(f *CliFlags) { f.Download = &CliDownloadFlags{FolderPattern: ptr("{modelName}")} }},
		{name: "zero api timeout", flags: func(f *CliFlags) { f.APIClientTimeoutSec = ptr(0) }},
		{name: "negative api timeout", flags: func(f *CliFlags) { f.APIClientTimeoutSec = ptr(-5) }},
		{name: "negative download timeout", flags: func(f *CliFlags) { f.DownloadTimeoutSec = ptr(-1) }},
		{name: "empty output dir", flags: func(f *CliFlags) { f.OutputDir = ptr("") }},
		{name: "bad log format", flags: func(f *CliFlags) { f.LogFormat = ptr("xml") }},
		{name: "bad log level", flags: func(f *CliFlags) { f.LogLevel = ptr("loud") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := isolate(t)
			tt.flags(&flags)
			_, _, err := Initialize(flags)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "expected ErrInvalidConfig, got %v", err)
		})
	}
}

// TestNilFlagPointers tests that nil flag pointers are handled gracefully
func TestNilFlagPointers(t *testing.T) {
	flags := isolate(t)
	flags.Download = nil
	flags.Torrent = nil
	flags.DB = &CliDBFlags{Verify: nil}

	cfg, _, err := Initialize(flags)
	require.NoError(t, err, "Initialize should handle nil flag pointers")
	assert.Equal(t, 100, cfg.Download.PerPage)
}

// TestHTTPTransportCreation tests the API logging transport wiring
func TestHTTPTransportCreation(t *testing.T) {
	flags := isolate(t)
	out := t.TempDir()
	flags.OutputDir = ptr(out)
	flags.LogApiRequests = ptr(true)

	_, transport, err := Initialize(flags)
	require.NoError(t, err)
	defer api.CloseAllLoggingTransports()

	_, ok := transport.(*api.LoggingTransport)
	assert.True(t, ok, "Expected a logging transport, got %T", transport)
	assert.FileExists(t, filepath.Join(out, "api.log"))
}

func TestRenderAndWriteDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "secret"

	rendered, err := Render(cfg)
	require.NoError(t, err)
	assert.Contains(t, rendered, `OutputDir = "xc_downloads"`)
	assert.Contains(t, rendered, "[Download]")
	assert.NotContains(t, rendered, "secret")

	path := filepath.Join(t.TempDir(), "conf", "config.toml")
	require.NoError(t, WriteDefault(path, false))

	err = WriteDefault(path, false)
	require.Error(t, err, "Existing file must not be overwritten without force")
	assert.True(t, strings.Contains(err.Error(), "already exists"))
	require.NoError(t, WriteDefault(path, true))

	// The written file round-trips through Initialize.
	flags := isolate(t)
	flags.ConfigFilePath = ptr(path)
	loaded, _, err := Initialize(flags)
	require.NoError(t, err)
	assert.Equal(t, DefaultOutputDir, loaded.OutputDir)
	assert.Equal(t, DefaultConfigDownloadPerPage, loaded.Download.PerPage)
}
