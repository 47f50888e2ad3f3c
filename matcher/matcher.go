// Package matcher decides whether a page URL falls under an active labor
// action. Each action is tried with exactly one strategy, in priority order:
// its URL regexes, else its literal hostnames plus a company-name probe.
package matcher

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/use-agent/picketline/models"
)

// patternCache memoizes compiled patterns. A nil entry records a pattern
// that failed to compile.
var patternCache sync.Map // string -> *regexp.Regexp

func compile(pattern string, logger *slog.Logger) *regexp.Regexp {
	if v, ok := patternCache.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		logger.Warn("invalid action url pattern", "pattern", pattern, "error", err)
		re = nil
	}
	patternCache.Store(pattern, re)
	return re
}

// Matcher matches URLs against action lists.
type Matcher struct {
	logger *slog.Logger
}

// New returns a Matcher that logs to logger (slog.Default when nil).
func New(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{logger: logger}
}

// Match returns the first active action governing rawURL, or nil.
func Match(rawURL string, actions []models.LaborAction) *models.LaborAction {
	return New(nil).Match(rawURL, actions)
}

// Match returns the first active action governing rawURL, or nil. It never
// panics; an unexpected failure is logged and reported as no match.
func (m *Matcher) Match(rawURL string, actions []models.LaborAction) (found *models.LaborAction) {
	if rawURL == "" || len(actions) == 0 {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("url matching failed", "url", rawURL, "panic", r)
			found = nil
		}
	}()

	lower := strings.ToLower(rawURL)
	host := Hostname(lower)

	for i := range actions {
		a := &actions[i]
		if !a.IsActive() {
			continue
		}
		if patterns, ok := a.MatchingRegexes(); ok {
			for _, p := range patterns {
				if re := compile(p, m.logger); re != nil && re.MatchString(lower) {
					return a
				}
			}
			continue
		}
		if matchesHost(host, a) {
			return a
		}
	}
	return nil
}

func matchesHost(host string, a *models.LaborAction) bool {
	if host != "" {
		for _, target := range a.HostTargets() {
			target = strings.ToLower(strings.TrimSpace(target))
			if target == "" {
				continue
			}
			if host == target || strings.HasSuffix(host, "."+target) {
				return true
			}
		}
	}
	company := models.NormalizeCompany(a.CompanyName())
	return company != "" && strings.Contains(host, company)
}

// Hostname extracts the lowercased hostname of an absolute URL. It returns
// "" for anything without a scheme and host.
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// FindByCompany returns the first active action for a company name,
// compared case-insensitively with whitespace ignored.
func FindByCompany(company string, actions []models.LaborAction) *models.LaborAction {
	want := models.NormalizeCompany(company)
	if want == "" {
		return nil
	}
	for i := range actions {
		a := &actions[i]
		if a.IsActive() && models.NormalizeCompany(a.CompanyName()) == want {
			return a
		}
	}
	return nil
}
