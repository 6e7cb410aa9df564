package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go-xenocanto-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrMissingAPIKey   = errors.New("API key is required (set XENO_CANTO_API_KEY or use --api-key)")
	ErrTimeout         = errors.New("API request timed out")
	ErrRequest         = errors.New("API request failed")
	ErrAPI             = errors.New("API error")
)

const (
	XenoCantoApiBaseUrl = "https://xeno-canto.org/api/3/recordings"
	APIKeyEnvVar        = "XENO_CANTO_API_KEY"

	MinPerPage = 50
	MaxPerPage = 500

	DefaultTimeout   = 30 * time.Second
	DefaultPageDelay = 100 * time.Millisecond
)

// UserAgent is sent with every catalog request.
var UserAgent = "xenocanto-downloader/0.1.0 (Go; net/http)"

// APIError is a non-2xx response or an explicit error object in the payload.
// Code and Message are passed through from the server when it provides them.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error [%s]: %s", e.Code, e.Message)
}

// Is makes errors.Is(err, ErrAPI) true for any *APIError.
func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

// Client struct for interacting with the Xeno-canto API
type Client struct {
	ApiKey     string
	HttpClient *http.Client // One session for the lifetime of the client
	BaseURL    string
	PageDelay  time.Duration // Pause between consecutive page fetches
}

// NewClient creates a new API client. When apiKey is empty the key from cfg
// is used, then the XENO_CANTO_API_KEY environment variable; if all are
// empty, ErrMissingAPIKey is returned.
func NewClient(apiKey string, httpClient *http.Client, cfg models.Config) (*Client, error) {
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		apiKey = os.Getenv(APIKeyEnvVar)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}

	if httpClient == nil {
		timeout := DefaultTimeout
		if cfg.APIClientTimeoutSec > 0 {
			timeout = time.Duration(cfg.APIClientTimeoutSec) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = XenoCantoApiBaseUrl
	}

	pageDelay := DefaultPageDelay
	switch {
	case cfg.APIDelayMs > 0:
		pageDelay = time.Duration(cfg.APIDelayMs) * time.Millisecond
	case cfg.APIDelayMs < 0:
		pageDelay = 0
	}

	log.Debugf("NewClient called for %s (API logging handled by transport if enabled)", baseURL)

	return &Client{
		ApiKey:     apiKey,
		HttpClient: httpClient,
		BaseURL:    baseURL,
		PageDelay:  pageDelay,
	}, nil
}

// Close releases the client's idle connections.
func (c *Client) Close() {
	if c.HttpClient != nil {
		c.HttpClient.CloseIdleConnections()
	}
}

// Search walks all result pages for query and returns the concatenated
// recordings in page order. maxResults > 0 truncates the result to exactly
// that many records and stops paging. Any page failure aborts the search and
// no partial results are returned.
func (c *Client) Search(ctx context.Context, query string, perPage, maxResults int) ([]models.Recording, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrInvalidArgument)
	}
	if perPage < MinPerPage || perPage > MaxPerPage {
		return nil, fmt.Errorf("%w: per_page must be between %d and %d, got %d", ErrInvalidArgument, MinPerPage, MaxPerPage, perPage)
	}

	all := make([]models.Recording, 0)
	page := 1

	for {
		log.WithField("page", page).Debug("Fetching search page")
		response, err := c.fetchPage(ctx, query, page, perPage)
		if err != nil {
			return nil, err
		}

		all = append(all, response.Recordings...)
		log.WithFields(log.Fields{
			"page":      page,
			"retrieved": len(all),
			"total":     int(response.NumRecordings),
		}).Debug("Retrieved recordings")

		if maxResults > 0 && len(all) >= maxResults {
			all = all[:maxResults]
			break
		}

		currentPage := int(response.Page)
		if currentPage < page {
			currentPage = page
		}
		totalPages := int(response.NumPages)
		if totalPages <= 0 {
			totalPages = 1
		}
		if currentPage >= totalPages {
			break
		}

		page++
		if err := c.pause(ctx); err != nil {
			return nil, err
		}
	}

	return all, nil
}

// GetMetadata performs a single one-result fetch and returns only the
// aggregate counts of the query.
func (c *Client) GetMetadata(ctx context.Context, query string) (models.SearchMetadata, error) {
	if strings.TrimSpace(query) == "" {
		return models.SearchMetadata{}, fmt.Errorf("%w: query cannot be empty", ErrInvalidArgument)
	}

	response, err := c.fetchPage(ctx, query, 1, 1)
	if err != nil {
		return models.SearchMetadata{}, err
	}

	return models.SearchMetadata{
		NumRecordings: int(response.NumRecordings),
		NumSpecies:    int(response.NumSpecies),
		NumPages:      int(response.NumPages),
	}, nil
}

// pause waits PageDelay or until ctx is done.
func (c *Client) pause(ctx context.Context) error {
	if c.PageDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.PageDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pagePayload is a page plus the optional error fields the API may send.
type pagePayload struct {
	models.PageResponse
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// fetchPage performs a single request for one page. There is no retry.
func (c *Client) fetchPage(ctx context.Context, query string, page, perPage int) (models.PageResponse, error) {
	values := url.Values{}
	values.Set("query", query)
	values.Set("key", c.ApiKey)
	values.Set("page", strconv.Itoa(page))
	values.Set("per_page", strconv.Itoa(perPage))

	reqURL := fmt.Sprintf("%s?%s", c.BaseURL, values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		log.WithError(err).Errorf("Error creating request for page %d", page)
		return models.PageResponse{}, fmt.Errorf("%w: creating request: %w", ErrRequest, redactURLError(err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.HttpClient.Do(req) // Transport will log if enabled
	if err != nil {
		return models.PageResponse{}, classifyTransportError(page, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Error("Error reading response body")
		return models.PageResponse{}, classifyTransportError(page, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := errorFromStatus(resp.StatusCode, body)
		log.WithError(apiErr).Errorf("Search request for page %d failed with status %d", page, resp.StatusCode)
		return models.PageResponse{}, apiErr
	}

	var payload pagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.WithError(err).Errorf("Error unmarshalling response JSON")
		log.Debugf("Response body causing unmarshal error: %s", string(body))
		return models.PageResponse{}, fmt.Errorf("%w: unmarshalling response JSON: %w", ErrRequest, err)
	}

	if hasErrorObject(payload.Error) {
		apiErr := errorFromPayload(resp.StatusCode, payload.Error, payload.Message)
		log.WithError(apiErr).Errorf("Search request for page %d returned an error payload", page)
		return models.PageResponse{}, apiErr
	}

	if payload.PageResponse.Recordings == nil {
		payload.PageResponse.Recordings = []models.Recording{}
	}
	return payload.PageResponse, nil
}

func classifyTransportError(page int, err error) error {
	err = redactURLError(err)

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		log.WithError(err).Warnf("Request for page %d timed out", page)
		return fmt.Errorf("%w (page %d): %w", ErrTimeout, page, err)
	}

	log.WithError(err).Errorf("Request for page %d failed", page)
	return fmt.Errorf("%w (page %d): %w", ErrRequest, page, err)
}

func hasErrorObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch string(trimmed) {
	case "null", "false", `""`:
		return false
	}
	return true
}

// errorFromPayload builds an APIError from the "error" field, which is either
// an object {code, message} or a bare code string with a sibling "message".
func errorFromPayload(status int, raw json.RawMessage, message string) *APIError {
	apiErr := &APIError{StatusCode: status}

	var obj struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	var code string
	if err := json.Unmarshal(raw, &obj); err == nil {
		apiErr.Code = renderCode(obj.Code)
		apiErr.Message = obj.Message
	} else if err := json.Unmarshal(raw, &code); err == nil {
		apiErr.Code = code
		apiErr.Message = message
	} else {
		apiErr.Message = string(bytes.TrimSpace(raw))
	}

	if apiErr.Code == "" {
		apiErr.Code = "unknown"
	}
	if apiErr.Message == "" {
		apiErr.Message = "Unknown error"
	}
	return apiErr
}

func errorFromStatus(status int, body []byte) *APIError {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && hasErrorObject(payload.Error) {
		return errorFromPayload(status, payload.Error, payload.Message)
	}

	return &APIError{
		StatusCode: status,
		Code:       strconv.Itoa(status),
		Message:    http.StatusText(status),
	}
}

func renderCode(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

// redactURLError strips the API key from a *url.Error's URL so it never
// ends up in logs or returned error text.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = RedactKey(urlErr.URL)
	}
	return err
}
