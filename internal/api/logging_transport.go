package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"go-xenocanto-download/internal/helpers"

	log "github.com/sirupsen/logrus"
)

// Transports still holding an open api.log, closed on exit.
var (
	openTransports   []*LoggingTransport
	openTransportsMu sync.Mutex
)

var apiKeyParam = regexp.MustCompile(`([?&]key=)[^&\s"]*`)

// RedactKey replaces the value of a key= query parameter with REDACTED.
func RedactKey(s string) string {
	return apiKeyParam.ReplaceAllString(s, "${1}REDACTED")
}

// LoggingTransport records each catalog exchange in an api.log file.
// Requests are dumped from a copy whose key parameter is already masked,
// so the key never reaches the log buffer.
type LoggingTransport struct {
	Transport http.RoundTripper
	file      *os.File
	out       *bufio.Writer
	mu        sync.Mutex
}

// NewLoggingTransport opens path for appending and wraps next.
func NewLoggingTransport(next http.RoundTripper, path string) (*LoggingTransport, error) {
	path = helpers.SanitizePath(path)
	// #nosec G304
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", path, err)
	}
	if next == nil {
		next = http.DefaultTransport
	}

	lt := &LoggingTransport{Transport: next, file: f, out: bufio.NewWriter(f)}

	openTransportsMu.Lock()
	openTransports = append(openTransports, lt)
	n := len(openTransports)
	openTransportsMu.Unlock()
	log.Debugf("API log open at %s (%d open)", path, n)

	return lt, nil
}

// maskedRequest returns a copy of req whose URL carries no API key.
func maskedRequest(req *http.Request) *http.Request {
	masked := req.Clone(req.Context())
	q := masked.URL.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		masked.URL.RawQuery = q.Encode()
	}
	return masked
}

// RoundTrip forwards req and appends the request head, the response head
// and any JSON body to the log. Audio bodies pass through unread.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()

	if head, err := httputil.DumpRequestOut(maskedRequest(req), false); err != nil {
		log.WithError(err).Error("[LogTransport] Could not dump request")
	} else {
		t.section(fmt.Sprintf(">>> %s %s", req.Method, started.Format(time.RFC3339)), string(head))
	}

	resp, err := t.Transport.RoundTrip(req)
	elapsed := time.Since(started).Round(time.Millisecond)
	if err != nil {
		t.section(fmt.Sprintf("<<< error after %v", elapsed), err.Error())
		return resp, err
	}

	contentType := resp.Header.Get("Content-Type")
	title := fmt.Sprintf("<<< %d after %v", resp.StatusCode, elapsed)
	head, _ := httputil.DumpResponse(resp, false)

	if !strings.HasPrefix(contentType, "application/json") {
		t.section(title, string(head)+"(body not logged)")
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		log.WithError(readErr).Error("[LogTransport] Could not read response body")
		t.section(title, string(head)+"(body read failed)")
		return resp, nil
	}
	t.section(title, string(head)+string(body))
	return resp, nil
}

// section appends one titled block and flushes it. The text is redacted
// again since error strings and bodies may echo the request URL.
func (t *LoggingTransport) section(title, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := fmt.Fprintf(t.out, "%s\n%s\n\n", title, RedactKey(strings.TrimRight(text, "\r\n"))); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
		return
	}
	if err := t.out.Flush(); err != nil {
		log.WithError(err).Error("[LogTransport] Could not flush API log")
	}
}

// Close flushes and closes the log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.out.Flush(); err != nil {
		_ = t.file.Close()
		return fmt.Errorf("failed to flush API log buffer: %w", err)
	}
	return t.file.Close()
}

// CloseAllLoggingTransports closes every transport opened so far.
func CloseAllLoggingTransports() {
	openTransportsMu.Lock()
	defer openTransportsMu.Unlock()

	for _, t := range openTransports {
		if err := t.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing API log %s: %v\n", t.file.Name(), err)
		}
	}
	openTransports = nil
}
