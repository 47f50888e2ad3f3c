// Package update checks GitHub for a newer release of the service.
package update

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v58/github"

	"github.com/use-agent/picketline/models"
)

// CompareVersions compares dotted numeric versions, ignoring a leading "v".
// Missing or non-numeric parts count as 0. It returns 1 when a is newer,
// -1 when b is newer and 0 when they are equal.
func CompareVersions(a, b string) int {
	pa, pb := parseVersion(a), parseVersion(b)
	for i := 0; i < max(len(pa), len(pb)); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

func parseVersion(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		// "3-beta" counts as 3.
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		out[i], _ = strconv.Atoi(p[:end])
	}
	return out
}

// Release is the latest published release.
type Release struct {
	Version     string    `json:"version"`
	Name        string    `json:"name,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
	URL         string    `json:"url"`
	DownloadURL string    `json:"download_url,omitempty"`
}

// Info is the result of a check.
type Info struct {
	Current         string    `json:"current_version"`
	Latest          *Release  `json:"latest,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Checker looks up the latest release and caches the answer.
type Checker struct {
	client  *github.Client
	owner   string
	repo    string
	current string
	ttl     time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	cached *Info
}

// NewChecker returns a Checker for owner/repo. A nil client uses the public
// API without authentication.
func NewChecker(client *github.Client, owner, repo, current string, ttl time.Duration, logger *slog.Logger) *Checker {
	if client == nil {
		client = github.NewClient(nil)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		client:  client,
		owner:   owner,
		repo:    repo,
		current: current,
		ttl:     ttl,
		logger:  logger,
	}
}

// Current returns the running version.
func (c *Checker) Current() string { return c.current }

// Check returns the cached result while it is younger than the TTL, unless
// force is set.
func (c *Checker) Check(ctx context.Context, force bool) (*Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.cached != nil && time.Since(c.cached.CheckedAt) < c.ttl {
		return c.cached, nil
	}

	rel, _, err := c.client.Repositories.GetLatestRelease(ctx, c.owner, c.repo)
	if err != nil {
		c.logger.Warn("release check failed", "owner", c.owner, "repo", c.repo, "error", err)
		return nil, models.NewPicketError(models.ErrCodeUpstreamUnavailable, "release lookup failed", err)
	}

	latest := &Release{
		Version:     strings.TrimPrefix(rel.GetTagName(), "v"),
		Name:        rel.GetName(),
		Notes:       rel.GetBody(),
		PublishedAt: rel.GetPublishedAt().Time,
		URL:         rel.GetHTMLURL(),
		DownloadURL: rel.GetHTMLURL(),
	}
	if len(rel.Assets) > 0 && rel.Assets[0].GetBrowserDownloadURL() != "" {
		latest.DownloadURL = rel.Assets[0].GetBrowserDownloadURL()
	}

	c.cached = &Info{
		Current:         c.current,
		Latest:          latest,
		UpdateAvailable: CompareVersions(latest.Version, c.current) > 0,
		CheckedAt:       time.Now(),
	}
	if c.cached.UpdateAvailable {
		c.logger.Info("newer release available", "current", c.current, "latest", latest.Version)
	}
	return c.cached, nil
}
