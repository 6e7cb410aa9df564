package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StringOrStringSlice is a custom type that can unmarshal from either
// a JSON string or a JSON array of strings. The catalog returns background
// species ("also") in both shapes depending on the record.
type StringOrStringSlice []string

// UnmarshalJSON implements json.Unmarshaler for StringOrStringSlice
func (s *StringOrStringSlice) UnmarshalJSON(data []byte) error {
	// First try to unmarshal as a string
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "" {
			*s = nil
			return nil
		}
		*s = []string{str}
		return nil
	}

	// If that fails, try to unmarshal as an array of strings
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	*s = arr
	return nil
}

// Join flattens the list into a single delimited string, skipping blanks.
func (s StringOrStringSlice) Join(sep string) string {
	parts := make([]string, 0, len(s))
	for _, v := range s {
		if strings.TrimSpace(v) != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}

// FlexInt is an integer that also accepts numeric strings ("123") and
// empty strings. The v3 API is not consistent about quoting counts.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler for FlexInt
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = 0
		return nil
	}

	var n json.Number
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n = json.Number(s)
	} else {
		n = json.Number(trimmed)
	}

	i, err := n.Int64()
	if err != nil {
		fl, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("invalid integer value %s: %w", string(trimmed), err)
		}
		i = int64(fl)
	}
	*f = FlexInt(i)
	return nil
}

type (
	// Config holds the application's configuration settings.
	Config struct {
		OutputDir           string         `toml:"OutputDir" json:"OutputDir"`
		DatabasePath        string         `toml:"DatabasePath" json:"DatabasePath"`
		BleveIndexPath      string         `toml:"BleveIndexPath" json:"BleveIndexPath"`
		LogLevel            string         `toml:"LogLevel" json:"LogLevel"`
		LogFormat           string         `toml:"LogFormat" json:"LogFormat"`
		APIKey              string         `toml:"ApiKey" json:"ApiKey"`
		APIBaseURL          string         `toml:"ApiBaseURL" json:"ApiBaseURL"`
		Download            DownloadConfig `toml:"Download" json:"Download"`
		Torrent             TorrentConfig  `toml:"Torrent" json:"Torrent"`
		DB                  DBConfig       `toml:"DB" json:"DB"`
		APIDelayMs          int            `toml:"ApiDelayMs" json:"ApiDelayMs"`
		APIClientTimeoutSec int            `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		DownloadTimeoutSec  int            `toml:"DownloadTimeoutSec" json:"DownloadTimeoutSec"`
		LogApiRequests      bool           `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// DownloadConfig holds settings specific to the 'download' command.
	DownloadConfig struct {
		FolderPattern    string `toml:"FolderPattern"`
		PerPage          int    `toml:"PerPage"`
		MaxResults       int    `toml:"MaxResults"`
		SkipExisting     bool   `toml:"SkipExisting"`
		MetadataOnly     bool   `toml:"MetadataOnly"`
		SkipConfirmation bool   `toml:"SkipConfirmation"`
		ShowProgress     bool   `toml:"ShowProgress"`
	}

	// TorrentConfig holds settings specific to the 'torrent' command.
	TorrentConfig struct {
		OutputDir   string   `toml:"OutputDir"`
		Trackers    []string `toml:"Trackers"`
		Overwrite   bool     `toml:"Overwrite"`
		MagnetLinks bool     `toml:"MagnetLinks"`
	}

	// DBConfig holds settings specific to the 'db' command group.
	DBConfig struct {
		Verify DBVerifyConfig `toml:"Verify"`
	}

	// DBVerifyConfig holds settings for the 'db verify' subcommand.
	DBVerifyConfig struct {
		CheckHash bool `toml:"CheckHash"`
	}
)

// PageResponse is one page of the /recordings search endpoint.
type PageResponse struct {
	Recordings    []Recording `json:"recordings"`
	Page          FlexInt     `json:"page"`
	NumPages      FlexInt     `json:"numPages"`
	NumRecordings FlexInt     `json:"numRecordings"`
	NumSpecies    FlexInt     `json:"numSpecies"`
}

// SearchMetadata is the aggregate part of a search response.
type SearchMetadata struct {
	NumRecordings int `json:"numRecordings"`
	NumSpecies    int `json:"numSpecies"`
	NumPages      int `json:"numPages"`
}

// DownloadStats counts per-record outcomes of a download batch.
type DownloadStats struct {
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Total returns the number of records accounted for.
func (s DownloadStats) Total() int {
	return s.Downloaded + s.Skipped + s.Failed
}

// LedgerEntry is the persisted outcome of processing one recording.
type LedgerEntry struct {
	RecordingID  string `json:"recordingId"`
	Genus        string `json:"genus"`
	Species      string `json:"species"`
	EnglishName  string `json:"englishName"`
	Country      string `json:"country"`
	Folder       string `json:"folder"`
	Filename     string `json:"filename"`
	FileURL      string `json:"fileUrl"`
	Status       string `json:"status"`
	Blake3       string `json:"blake3"`
	ErrorDetails string `json:"errorDetails,omitempty"`
	Bytes        int64  `json:"bytes"`
	Timestamp    int64  `json:"timestamp"`
}

// Ledger Status Constants
const (
	StatusPending    = "Pending"
	StatusDownloaded = "Downloaded"
	StatusSkipped    = "Skipped"
	StatusError      = "Error"
)

// MetadataColumns is the fixed column set of metadata.csv.
var MetadataColumns = []string{
	"id", "gen", "sp", "ssp", "grp", "en", "rec", "cnt", "loc",
	"lat", "lng", "alt", "type", "sex", "stage", "method",
	"url", "file", "file-name", "lic", "q", "length", "time",
	"date", "uploaded", "rmk", "animal-seen", "playback-used",
	"temp", "regnr", "auto", "dvc", "mic", "smp", "also",
}
