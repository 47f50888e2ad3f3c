package card

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/use-agent/picketline/models"
)

// DefaultAPIBase is the origin relative logo paths resolve against.
const DefaultAPIBase = "https://onlinepicketline.com"

// firstNonEmpty returns the first candidate that is not blank.
func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return strings.TrimSpace(c)
		}
	}
	return ""
}

func extension(a *models.LaborAction) *models.ExtensionData {
	if a.ExtensionData == nil {
		return &models.ExtensionData{}
	}
	return a.ExtensionData
}

func details(a *models.LaborAction) *models.ActionDetails {
	if d := a.Details(); d != nil {
		return d
	}
	return &models.ActionDetails{}
}

// LogoURL resolves an action's logo, absolutizing root-relative paths
// against apiBase.
func LogoURL(a *models.LaborAction, apiBase string) string {
	ext, det := extension(a), details(a)
	logo := firstNonEmpty(a.LogoURL, ext.LogoURL, ext.UnionLogoURL, det.LogoURL, det.UnionLogoURL)
	if strings.HasPrefix(logo, "/") && !strings.HasPrefix(logo, "//") {
		if apiBase == "" {
			apiBase = DefaultAPIBase
		}
		return strings.TrimRight(apiBase, "/") + logo
	}
	return logo
}

// MoreInfoURL resolves an action's learn-more link.
func MoreInfoURL(a *models.LaborAction) string {
	ext, det := extension(a), details(a)
	return firstNonEmpty(a.MoreInfo, a.URL, ext.MoreInfoURL, det.LearnMoreURL)
}

// TypeLabel resolves the action type with its first letter capitalized.
func TypeLabel(a *models.LaborAction) string {
	return capitalize(firstNonEmpty(a.Type, details(a).ActionType, "action"))
}

// Description resolves the action description.
func Description(a *models.LaborAction) string {
	return firstNonEmpty(a.Description, details(a).Description)
}

// Demands resolves the action demands.
func Demands(a *models.LaborAction) string {
	return firstNonEmpty(a.Demands, details(a).Demands)
}

// Location resolves the primary location.
func Location(a *models.LaborAction) string {
	return firstNonEmpty(a.FirstLocation(), details(a).Location)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// TruncateText shortens s to at most max runes, ending in a single ellipsis
// when it had to cut.
func TruncateText(s string, max int) string {
	if s == "" || max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
