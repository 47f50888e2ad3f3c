package actions

import (
	"encoding/json"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/use-agent/picketline/models"
)

// Snapshot is one fetched action list plus the company logo index built
// alongside it.
type Snapshot struct {
	Actions   []models.LaborAction `json:"actions"`
	Logos     map[string]string    `json:"logos,omitempty"`
	FetchedAt time.Time            `json:"fetched_at"`
}

const optimizedPatternsKey = "_optimizedPatterns"

// Transform groups blocklist entries by employer into labor actions, in the
// order employers first appear.
func Transform(resp *models.BlocklistResponse) []models.LaborAction {
	if resp == nil || len(resp.Blocklist) == 0 {
		return []models.LaborAction{}
	}

	var order []string
	byEmployer := make(map[string]*models.LaborAction)
	for _, e := range resp.Blocklist {
		id := e.EmployerID
		if id == "" {
			id = e.Employer
		}
		a, ok := byEmployer[id]
		if !ok {
			a = &models.LaborAction{
				ID:          id,
				Title:       "Labor Action: " + e.Employer,
				Description: e.Reason,
				Company:     e.Employer,
				Type:        ExtractActionType(e.Reason),
				Status:      models.StatusActive,
				TargetURLs:  []string{},
			}
			if a.Description == "" {
				a.Description = "Active labor action"
			}
			byEmployer[id] = a
			order = append(order, id)
		}
		if host := targetHost(e.URL); host != "" && !slices.Contains(a.TargetURLs, host) {
			a.TargetURLs = append(a.TargetURLs, host)
		}
		if e.LocationName != "" && !slices.Contains(a.Locations, e.LocationName) {
			a.Locations = append(a.Locations, e.LocationName)
		}
		if e.DivisionName != "" && !slices.Contains(a.Divisions, e.DivisionName) {
			a.Divisions = append(a.Divisions, e.DivisionName)
		}
		if a.MoreInfo == "" {
			a.MoreInfo = e.MoreInfoURL
		}
		if a.StartDate == "" {
			a.StartDate = e.StartDate
		}
	}

	if resp.ActionResources != nil {
		for _, res := range resp.ActionResources.Resources {
			org := strings.ToLower(res.Organization)
			if org == "" {
				continue
			}
			for _, id := range order {
				a := byEmployer[id]
				if a.Company != "" && strings.Contains(org, strings.ToLower(a.Company)) {
					a.ActionResources = append(a.ActionResources, res)
				}
			}
		}
	}

	ext := extensionByCompany(resp.ExtensionData)
	out := make([]models.LaborAction, 0, len(order))
	for _, id := range order {
		a := byEmployer[id]
		if e, ok := ext[models.NormalizeCompany(a.Company)]; ok {
			a.ExtensionData = e
		}
		out = append(out, *a)
	}
	return out
}

func extensionByCompany(raw map[string]json.RawMessage) map[string]*models.ExtensionData {
	out := make(map[string]*models.ExtensionData, len(raw))
	for name, msg := range raw {
		if name == optimizedPatternsKey {
			continue
		}
		var e models.ExtensionData
		if err := json.Unmarshal(msg, &e); err != nil {
			continue
		}
		out[models.NormalizeCompany(name)] = &e
	}
	return out
}

// ExtractActionType classifies a blocklist reason.
func ExtractActionType(reason string) string {
	r := strings.ToLower(reason)
	for _, t := range []string{"strike", "boycott", "picket", "protest"} {
		if strings.Contains(r, t) {
			return t
		}
	}
	return "labor_action"
}

// targetHost extracts the hostname of a blocklist URL, accepting bare
// domains, and drops a leading "www.".
func targetHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + raw)
		if err != nil {
			return ""
		}
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// LogoIndex maps normalized company names to logo URLs, preferring the
// employer list and falling back to logos carried by the actions.
func LogoIndex(actions []models.LaborAction, employers []models.Employer) map[string]string {
	idx := make(map[string]string)
	for _, e := range employers {
		if e.Name != "" && e.LogoURL != "" {
			idx[models.NormalizeCompany(e.Name)] = e.LogoURL
		}
	}
	for i := range actions {
		a := &actions[i]
		key := models.NormalizeCompany(a.CompanyName())
		if key == "" {
			continue
		}
		if _, ok := idx[key]; ok {
			continue
		}
		logo := a.LogoURL
		if logo == "" && a.ExtensionData != nil {
			logo = a.ExtensionData.LogoURL
			if logo == "" {
				logo = a.ExtensionData.UnionLogoURL
			}
		}
		if logo != "" {
			idx[key] = logo
		}
	}
	return idx
}
