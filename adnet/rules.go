// Package adnet holds the ad-network data used to recognize ad slots and
// ad requests: CSS selectors, network domains and the resource types a
// network rule applies to. The lists go stale as networks change their
// markup, so they are versioned data rather than code.
package adnet

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Network is one ad provider and the hosts it serves from.
type Network struct {
	Provider string   `yaml:"provider" json:"provider"`
	Domains  []string `yaml:"domains" json:"domains"`
}

// File is the on-disk shape of a rule file.
type File struct {
	Version       string    `yaml:"version"`
	Selectors     []string  `yaml:"selectors"`
	Networks      []Network `yaml:"networks"`
	ResourceTypes []string  `yaml:"resource_types"`
}

// Rules is a compiled, immutable rule set.
type Rules struct {
	Version       string
	Selectors     []string
	Networks      []Network
	ResourceTypes []string

	matcher cascadia.Selector
	domains []domainEntry
}

type domainEntry struct {
	domain   string
	provider string
}

// Default returns the embedded rule set.
func Default() *Rules {
	r, err := Parse(defaultRules, nil)
	if err != nil {
		panic(fmt.Sprintf("adnet: embedded rules: %v", err))
	}
	return r
}

// Load reads and compiles a rule file. An empty path returns the embedded rules.
func Load(path string, logger *slog.Logger) (*Rules, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ad rules %s: %w", path, err)
	}
	return Parse(data, logger)
}

// Parse compiles rule data. Selectors that fail to compile are logged and
// dropped so one bad entry cannot disable detection.
func Parse(data []byte, logger *slog.Logger) (*Rules, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse ad rules: %w", err)
	}

	r := &Rules{Version: f.Version, Networks: f.Networks, ResourceTypes: f.ResourceTypes}
	for _, s := range f.Selectors {
		if _, err := cascadia.Compile(s); err != nil {
			logger.Warn("dropping invalid ad selector", "selector", s, "error", err)
			continue
		}
		r.Selectors = append(r.Selectors, s)
	}
	if len(r.Selectors) > 0 {
		combined, err := cascadia.Compile(strings.Join(r.Selectors, ", "))
		if err != nil {
			return nil, fmt.Errorf("compile ad selectors: %w", err)
		}
		r.matcher = combined
	}
	for _, n := range f.Networks {
		for _, d := range n.Domains {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" {
				r.domains = append(r.domains, domainEntry{domain: d, provider: n.Provider})
			}
		}
	}
	if r.matcher == nil && len(r.domains) == 0 {
		return nil, fmt.Errorf("parse ad rules: no usable selectors or domains")
	}
	return r, nil
}

// Matcher returns the combined selector, or nil when there are no selectors.
func (r *Rules) Matcher() cascadia.Selector {
	return r.matcher
}

// Domains returns every network domain in file order.
func (r *Rules) Domains() []string {
	out := make([]string, len(r.domains))
	for i, d := range r.domains {
		out[i] = d.domain
	}
	return out
}

// MatchesIframeSrc reports whether an iframe src mentions a network domain.
func (r *Rules) MatchesIframeSrc(src string) bool {
	if src == "" {
		return false
	}
	src = strings.ToLower(src)
	for _, d := range r.domains {
		if strings.Contains(src, d.domain) {
			return true
		}
	}
	return false
}

// IsAdHost reports whether host is a network domain or one of its subdomains.
func (r *Rules) IsAdHost(host string) bool {
	return r.ProviderFor(host) != ""
}

// ProviderFor returns the provider serving host, or "".
func (r *Rules) ProviderFor(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	for _, d := range r.domains {
		if host == d.domain || strings.HasSuffix(host, "."+d.domain) {
			return d.provider
		}
	}
	return ""
}
