// Package dnr generates declarativeNetRequest-style network rules from the
// labor action list and the ad-network data, for clients that filter
// requests themselves (browser extensions, gateways) instead of asking the
// API page by page.
package dnr

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/use-agent/picketline/adnet"
	"github.com/use-agent/picketline/models"
)

// Rule id ranges and priorities.
const (
	BlockRuleOffset  = 1
	MaxBlockRules    = 5000
	AdBlockOffset    = 10001
	BypassRuleOffset = MaxBlockRules + 10000

	BlockPriority   = 1
	AdBlockPriority = 2
	BypassPriority  = 100
)

// Action types.
const (
	ActionRedirect = "redirect"
	ActionBlock    = "block"
	ActionAllow    = "allow"
)

// Rule is one network rule in the declarativeNetRequest JSON shape.
type Rule struct {
	ID        int       `json:"id"`
	Priority  int       `json:"priority"`
	Action    Action    `json:"action"`
	Condition Condition `json:"condition"`
}

type Action struct {
	Type     string    `json:"type"`
	Redirect *Redirect `json:"redirect,omitempty"`
}

type Redirect struct {
	URL string `json:"url"`
}

type Condition struct {
	URLFilter     string   `json:"urlFilter"`
	ResourceTypes []string `json:"resourceTypes"`
}

var (
	regexDelims   = regexp.MustCompile(`^/|/[igm]*$`)
	schemePrefix  = regexp.MustCompile(`^\^https\?://\(\?:www\\\.\)\?|^\^https\?://\(www\\\.\)\?`)
	bareDomain    = regexp.MustCompile(`(?i)^[a-z0-9\\.-]+\.[a-z]{2,}$`)
	domainPath    = regexp.MustCompile(`(?i)^[a-z0-9\\.-]+\.[a-z]{2,}/.+$`)
	firstOption   = regexp.MustCompile(`\(([^|]+)\|`)
	wholeGroup    = regexp.MustCompile(`^\(([^)]+)\)$`)
	domainLike    = regexp.MustCompile(`(?i)^[a-z0-9\\.*-]+$`)
	filterAnchors = regexp.MustCompile(`[\^*]+$`)
)

var socialDomains = []string{"facebook", "twitter", "instagram", "linkedin", "youtube", "pinterest"}

func unescapeDots(p string) string {
	return strings.ReplaceAll(p, `\.`, ".")
}

// ConvertRegexToURLFilter turns one matching regex into the closest urlFilter.
// Alternations keep only their first option; use ExpandRegexToFilters to get
// one filter per option.
func ConvertRegexToURLFilter(pattern string) (string, bool) {
	p := regexDelims.ReplaceAllString(strings.TrimSpace(pattern), "")
	if p == "" {
		return "", false
	}

	if loc := schemePrefix.FindStringIndex(p); loc != nil {
		p = p[loc[1]:]
		p = strings.TrimSuffix(p, `\/`)
		p = strings.TrimSuffix(p, "$")
		p = unescapeDots(p)
		if p == "" {
			return "", false
		}
		return "||" + p, true
	}

	if bareDomain.MatchString(p) {
		return "||" + unescapeDots(p) + "^", true
	}
	if domainPath.MatchString(p) {
		return "||" + unescapeDots(p), true
	}

	for _, s := range socialDomains {
		if strings.Contains(p, s+`\.com`) || strings.Contains(p, s+".com") {
			p = strings.ReplaceAll(unescapeDots(p), ".*", "*")
			return "||" + p + "*", true
		}
	}

	if m := firstOption.FindStringSubmatch(p); m != nil {
		return "||" + unescapeDots(m[1]) + "*", true
	}

	p = unescapeDots(p)
	p = strings.ReplaceAll(p, ".*", "*")
	p = strings.ReplaceAll(p, ".+", "*")
	if domainLike.MatchString(p) {
		return "||" + p + "*", true
	}
	return "*" + p + "*", true
}

// ExpandRegexToFilters converts a pattern that is a single alternation group,
// such as (a\.com|b\.com), into one filter per option. Anything else yields
// at most one filter.
func ExpandRegexToFilters(pattern string) []string {
	p := regexDelims.ReplaceAllString(strings.TrimSpace(pattern), "")
	if m := wholeGroup.FindStringSubmatch(p); m != nil {
		var out []string
		for _, opt := range strings.Split(m[1], "|") {
			if f, ok := ConvertRegexToURLFilter(strings.TrimSpace(opt)); ok {
				out = append(out, f)
			}
		}
		return out
	}
	if f, ok := ConvertRegexToURLFilter(p); ok {
		return []string{f}
	}
	return nil
}

// DomainHint strips the anchor and trailing separators from a urlFilter.
func DomainHint(filter string) string {
	return filterAnchors.ReplaceAllString(strings.TrimPrefix(filter, "||"), "")
}

func blockPageURL(blockPage, hint string) string {
	sep := "?"
	if strings.Contains(blockPage, "?") {
		sep = "&"
	}
	return blockPage + sep + "domain=" + url.QueryEscape(hint)
}

// BlockRules redirects main-frame loads of every active action's targets to
// blockPage. The action's matching regexes are used when present, its legacy
// hostnames otherwise. Generation stops at MaxBlockRules.
func BlockRules(actions []models.LaborAction, blockPage string) []Rule {
	rules := []Rule{}
	id := BlockRuleOffset
	for i := range actions {
		a := &actions[i]
		if !a.IsActive() {
			continue
		}
		patterns, ok := a.MatchingRegexes()
		if !ok {
			patterns = a.HostTargets()
		}
		for _, pattern := range patterns {
			for _, filter := range ExpandRegexToFilters(pattern) {
				if id > MaxBlockRules {
					slog.Warn("block rule limit reached", "limit", MaxBlockRules)
					return rules
				}
				rules = append(rules, Rule{
					ID:       id,
					Priority: BlockPriority,
					Action: Action{
						Type:     ActionRedirect,
						Redirect: &Redirect{URL: blockPageURL(blockPage, DomainHint(filter))},
					},
					Condition: Condition{URLFilter: filter, ResourceTypes: []string{"main_frame"}},
				})
				id++
			}
		}
	}
	return rules
}

// AdBlockRules blocks requests to every ad-network domain.
func AdBlockRules(r *adnet.Rules) []Rule {
	rules := []Rule{}
	if r == nil {
		return rules
	}
	for i, domain := range r.Domains() {
		rules = append(rules, Rule{
			ID:        AdBlockOffset + i,
			Priority:  AdBlockPriority,
			Action:    Action{Type: ActionBlock},
			Condition: Condition{URLFilter: "||" + domain + "^", ResourceTypes: r.ResourceTypes},
		})
	}
	return rules
}

// BypassRule allows main-frame loads of rawURL's host over any block rule.
// seq distinguishes concurrent bypasses.
func BypassRule(rawURL string, seq int) (Rule, bool) {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}
	if host == "" {
		rest := strings.TrimPrefix(strings.TrimPrefix(rawURL, "http://"), "https://")
		host, _, _ = strings.Cut(rest, "/")
	}
	if host == "" {
		return Rule{}, false
	}
	return Rule{
		ID:        BypassRuleOffset + seq,
		Priority:  BypassPriority,
		Action:    Action{Type: ActionAllow},
		Condition: Condition{URLFilter: "||" + host, ResourceTypes: []string{"main_frame"}},
	}, true
}

// Rules returns the full rule set for a display mode. Banner mode needs no
// redirect rules; ad blocking rules are appended when blockAds is set.
func Rules(actions []models.LaborAction, mode, blockPage string, blockAds bool, adRules *adnet.Rules) []Rule {
	var rules []Rule
	if mode == models.ModeBlock {
		rules = BlockRules(actions, blockPage)
	} else {
		rules = []Rule{}
	}
	if blockAds {
		rules = append(rules, AdBlockRules(adRules)...)
	}
	return rules
}
