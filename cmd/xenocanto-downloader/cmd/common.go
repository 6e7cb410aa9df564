package cmd

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go-xenocanto-download/internal/api"
	"go-xenocanto-download/internal/downloader"
	"go-xenocanto-download/internal/models"
)

// apiTimeout never returns zero, which http.Client reads as no limit.
func apiTimeout(cfg models.Config) time.Duration {
	if cfg.APIClientTimeoutSec > 0 {
		return time.Duration(cfg.APIClientTimeoutSec) * time.Second
	}
	return api.DefaultTimeout
}

// newAPIClient creates the catalog client on the shared transport.
func newAPIClient(cfg models.Config) (*api.Client, error) {
	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   apiTimeout(cfg),
	}
	return api.NewClient(cfg.APIKey, httpClient, cfg)
}

// newDownloader creates a downloader rooted at cfg.OutputDir. File transfers
// use their own timeout and bypass the API logging transport.
func newDownloader(cfg models.Config) (*downloader.Downloader, error) {
	timeout := downloader.DefaultTimeout
	if cfg.DownloadTimeoutSec > 0 {
		timeout = time.Duration(cfg.DownloadTimeoutSec) * time.Second
	}
	dl, err := downloader.NewDownloader(&http.Client{Timeout: timeout}, cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	dl.FolderPattern = cfg.Download.FolderPattern
	return dl, nil
}

// confirm asks prompt on out until a y/n answer is read from in. EOF counts as no.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, prompt)
		input, err := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(input)) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			fmt.Fprintln(out)
			return false
		}
		fmt.Fprintln(out, "Invalid input. Please enter 'y' or 'n'.")
	}
}
