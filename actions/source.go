// Package actions keeps the current list of labor actions: it fetches the
// Online Picket Line blocklist, reshapes it into LaborAction records and
// caches the result.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/picketline/models"
)

// Source produces a fresh action snapshot.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
	Name() string
}

const (
	userAgent       = "picketline/1.0 (+https://onlinepicketline.com)"
	maxResponseBody = 20 << 20
	defaultRetry    = 120 * time.Second
)

// HTTPSource reads the public blocklist endpoint.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource returns a source for the API at base. A nil client gets one
// with the given timeout.
func NewHTTPSource(base string, client *http.Client, timeout time.Duration) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSource{base: strings.TrimRight(base, "/"), client: client}
}

func (s *HTTPSource) Name() string { return "http" }

// Fetch downloads and transforms the blocklist.
func (s *HTTPSource) Fetch(ctx context.Context) (*Snapshot, error) {
	if s.base == "" {
		return nil, models.NewPicketError(models.ErrCodeInvalidInput, "actions API base URL is not configured", nil)
	}
	url := s.base + "/api/blocklist?format=json&includeInactive=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("actions: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, models.NewPicketError(models.ErrCodeUpstreamUnavailable, "blocklist request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp.Header.Get("Retry-After"))
		pe := models.NewPicketError(models.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("blocklist rate limited, retry after %s", wait), nil)
		pe.RetryAfter = wait
		return nil, pe
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, models.NewPicketError(models.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("blocklist request failed: status %d", resp.StatusCode), nil)
	}

	var body models.BlocklistResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&body); err != nil {
		return nil, models.NewPicketError(models.ErrCodeParse, "decode blocklist", err)
	}
	list := Transform(&body)
	return &Snapshot{Actions: list, Logos: LogoIndex(list, body.Employers), FetchedAt: time.Now()}, nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return defaultRetry
}

// FileSource reads a JSON array of actions from disk. It is the offline test
// mode of the repository.
type FileSource struct {
	path string
}

// NewFileSource returns a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return "file" }

// Fetch reads the file on every call so edits show up on the next refresh.
func (s *FileSource) Fetch(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("actions: read %s: %w", s.path, err)
	}
	var list []models.LaborAction
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, models.NewPicketError(models.ErrCodeParse, "decode action file", err)
	}
	return &Snapshot{Actions: list, Logos: LogoIndex(list, nil), FetchedAt: time.Now()}, nil
}
