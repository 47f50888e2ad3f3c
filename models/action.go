package models

import "strings"

// StatusActive is the only status a labor action can carry and still be
// matched or shown. An empty status counts as active.
const StatusActive = "active"

// LaborAction is a strike, boycott, picket or other labor action as served
// by the Online Picket Line API. The core treats it as read-only.
type LaborAction struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Company     string   `json:"company,omitempty"`
	Employer    string   `json:"employer,omitempty"`
	Type        string   `json:"type,omitempty"`
	Status      string   `json:"status,omitempty"`
	Locations   []string `json:"locations,omitempty"`
	Divisions   []string `json:"divisions,omitempty"`
	Demands     string   `json:"demands,omitempty"`
	StartDate   string   `json:"startDate,omitempty"`
	EndDate     string   `json:"endDate,omitempty"`
	LogoURL     string   `json:"logoUrl,omitempty"`
	MoreInfo    string   `json:"more_info,omitempty"`
	URL         string   `json:"url,omitempty"`

	// Legacy literal hostname lists. The first non-empty one is used.
	TargetURLs []string `json:"target_urls,omitempty"`
	Targets    []string `json:"targets,omitempty"`
	Domains    []string `json:"domains,omitempty"`

	ActionResources []ActionResource `json:"actionResources,omitempty"`
	ExtensionData   *ExtensionData   `json:"_extensionData,omitempty"`
}

// ExtensionData carries the extension-specific fields attached to an action.
type ExtensionData struct {
	MoreInfoURL  string `json:"moreInfoUrl,omitempty"`
	LogoURL      string `json:"logoUrl,omitempty"`
	UnionLogoURL string `json:"unionLogoUrl,omitempty"`

	// MatchingURLRegexes is authoritative when non-nil, even if empty.
	// It deliberately has no omitempty so the distinction survives a
	// round trip through the snapshot store.
	MatchingURLRegexes []string `json:"matchingUrlRegexes"`

	StartTime     string         `json:"startTime,omitempty"`
	EndTime       string         `json:"endTime,omitempty"`
	ActionDetails *ActionDetails `json:"actionDetails,omitempty"`
}

// ActionDetails is the nested detail record inside ExtensionData.
type ActionDetails struct {
	ID           string `json:"id,omitempty"`
	Organization string `json:"organization,omitempty"`
	ActionType   string `json:"actionType,omitempty"`
	Status       string `json:"status,omitempty"`
	Description  string `json:"description,omitempty"`
	Demands      string `json:"demands,omitempty"`
	ContactInfo  string `json:"contactInfo,omitempty"`
	LogoURL      string `json:"logoUrl,omitempty"`
	UnionLogoURL string `json:"unionLogoUrl,omitempty"`
	Location     string `json:"location,omitempty"`
	LearnMoreURL string `json:"learnMoreUrl,omitempty"`
}

// ActionResource links an organizing group's page to an action.
type ActionResource struct {
	Organization string `json:"organization,omitempty"`
	Title        string `json:"title,omitempty"`
	URL          string `json:"url,omitempty"`
	Type         string `json:"type,omitempty"`
	Description  string `json:"description,omitempty"`
}

// IsActive reports whether the action may be matched and shown.
func (a *LaborAction) IsActive() bool {
	return a.Status == "" || a.Status == StatusActive
}

// CompanyName returns the company, falling back to the employer.
func (a *LaborAction) CompanyName() string {
	if a.Company != "" {
		return a.Company
	}
	return a.Employer
}

// MatchingRegexes returns the regex list and whether one is present at all.
func (a *LaborAction) MatchingRegexes() ([]string, bool) {
	if a.ExtensionData == nil || a.ExtensionData.MatchingURLRegexes == nil {
		return nil, false
	}
	return a.ExtensionData.MatchingURLRegexes, true
}

// HostTargets returns the first non-empty legacy hostname list.
func (a *LaborAction) HostTargets() []string {
	for _, list := range [][]string{a.TargetURLs, a.Targets, a.Domains} {
		if len(list) > 0 {
			return list
		}
	}
	return nil
}

// Details returns the nested action details, or nil.
func (a *LaborAction) Details() *ActionDetails {
	if a.ExtensionData == nil {
		return nil
	}
	return a.ExtensionData.ActionDetails
}

// FirstLocation returns the first location, or "".
func (a *LaborAction) FirstLocation() string {
	if len(a.Locations) == 0 {
		return ""
	}
	return a.Locations[0]
}

// ActiveOnly returns the actions that may be matched and shown, in order.
func ActiveOnly(actions []LaborAction) []LaborAction {
	out := make([]LaborAction, 0, len(actions))
	for _, a := range actions {
		if a.IsActive() {
			out = append(out, a)
		}
	}
	return out
}

// NormalizeCompany lowercases a company name and strips all whitespace.
func NormalizeCompany(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "")
}

// Display modes for a matched page.
const (
	ModeBanner = "banner"
	ModeBlock  = "block"
)

// ValidMode reports whether mode is a known display mode.
func ValidMode(mode string) bool {
	return mode == ModeBanner || mode == ModeBlock
}
