package models

import "encoding/json"

// BlocklistResponse is the body of GET /api/blocklist?format=json.
type BlocklistResponse struct {
	Blocklist       []BlocklistEntry    `json:"blocklist"`
	Employers       []Employer          `json:"employers,omitempty"`
	ActionResources *ActionResourceList `json:"actionResources,omitempty"`

	// ExtensionData maps an employer name to its extension record. The
	// "_optimizedPatterns" key holds precompiled data and is ignored.
	ExtensionData map[string]json.RawMessage `json:"extensionData,omitempty"`
}

// BlocklistEntry is one blocked URL. Several entries share an employer.
type BlocklistEntry struct {
	URL          string `json:"url"`
	Employer     string `json:"employer"`
	EmployerID   string `json:"employerId"`
	Label        string `json:"label,omitempty"`
	Category     string `json:"category,omitempty"`
	Reason       string `json:"reason,omitempty"`
	MoreInfoURL  string `json:"moreInfoUrl,omitempty"`
	LocationName string `json:"locationName,omitempty"`
	DivisionName string `json:"divisionName,omitempty"`
	StartDate    string `json:"startDate,omitempty"`
}

// Employer is an employer summary row.
type Employer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logoUrl,omitempty"`
}

// ActionResourceList wraps the resources array.
type ActionResourceList struct {
	Resources []ActionResource `json:"resources"`
}
