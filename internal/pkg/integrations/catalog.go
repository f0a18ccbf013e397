package integrations

import (
	"strings"

	"github.com/synthhq/synth/internal/pkg/entitlements"
)

// The integration catalog is a closed list: names that do not resolve here
// are rejected outright, independent of plan tier.

// minPlan is the lowest plan that unlocks an integration.
var catalog = map[string]entitlements.Plan{
	// unlocked at starter
	"slack":           entitlements.PlanStarter,
	"gmail":           entitlements.PlanStarter,
	"google-sheets":   entitlements.PlanStarter,
	"google-calendar": entitlements.PlanStarter,
	"google-drive":    entitlements.PlanStarter,
	"discord":         entitlements.PlanStarter,
	"telegram":        entitlements.PlanStarter,
	"trello":          entitlements.PlanStarter,
	"notion":          entitlements.PlanStarter,
	"airtable":        entitlements.PlanStarter,
	"mailchimp":       entitlements.PlanStarter,
	"dropbox":         entitlements.PlanStarter,
	"github":          entitlements.PlanStarter,
	"typeform":        entitlements.PlanStarter,
	"twilio":          entitlements.PlanStarter,

	// unlocked at pro
	"salesforce": entitlements.PlanPro,
	"hubspot":    entitlements.PlanPro,
	"stripe":     entitlements.PlanPro,
	"shopify":    entitlements.PlanPro,
	"zendesk":    entitlements.PlanPro,
	"jira":       entitlements.PlanPro,
	"asana":      entitlements.PlanPro,
	"clickup":    entitlements.PlanPro,
	"intercom":   entitlements.PlanPro,
	"quickbooks": entitlements.PlanPro,
	"xero":       entitlements.PlanPro,
	"monday":     entitlements.PlanPro,
	"pipedrive":  entitlements.PlanPro,
	"zoom":       entitlements.PlanPro,
	"sendgrid":   entitlements.PlanPro,

	// unlocked at agency
	"netsuite":   entitlements.PlanAgency,
	"sap":        entitlements.PlanAgency,
	"workday":    entitlements.PlanAgency,
	"marketo":    entitlements.PlanAgency,
	"snowflake":  entitlements.PlanAgency,
	"bigquery":   entitlements.PlanAgency,
	"tableau":    entitlements.PlanAgency,
	"segment":    entitlements.PlanAgency,
	"amplitude":  entitlements.PlanAgency,
	"servicenow": entitlements.PlanAgency,
}

// aliases maps common spellings onto canonical ids after normalization.
var aliases = map[string]string{
	"gsheets":        "google-sheets",
	"gsheet":         "google-sheets",
	"sheets":         "google-sheets",
	"gcal":           "google-calendar",
	"gdrive":         "google-drive",
	"googlemail":     "gmail",
	"monday-com":     "monday",
	"sap-erp":        "sap",
	"google-big-query": "bigquery",
}

// normalizeName lowercases and converts separators so "Google Sheets" and
// "google_sheets" both resolve.
func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", "-")
	n = strings.ReplaceAll(n, " ", "-")
	n = strings.ReplaceAll(n, ".", "-")
	return n
}

// Resolve maps a free-form integration name to its canonical id. The second
// return is false for names outside the closed list.
func Resolve(name string) (string, bool) {
	n := normalizeName(name)
	if n == "" {
		return "", false
	}
	if canonical, ok := aliases[n]; ok {
		n = canonical
	}
	if _, ok := catalog[n]; ok {
		return n, true
	}
	return "", false
}

// MinimumPlanFor returns the lowest plan tier that unlocks a canonical id.
// The second return is false for unknown ids.
func MinimumPlanFor(canonicalID string) (entitlements.Plan, bool) {
	p, ok := catalog[canonicalID]
	return p, ok
}

// AllowedForPlan reports whether a canonical id is usable on a plan.
func AllowedForPlan(canonicalID string, plan entitlements.Plan) bool {
	min, ok := catalog[canonicalID]
	if !ok {
		return false
	}
	return entitlements.PlanRank(plan) >= entitlements.PlanRank(min)
}

// CatalogSize reports how many integrations the closed list carries.
func CatalogSize() int {
	return len(catalog)
}

// CountByMinimumPlan reports how many integrations unlock at each tier.
func CountByMinimumPlan() map[entitlements.Plan]int {
	out := make(map[entitlements.Plan]int)
	for _, p := range catalog {
		out[p]++
	}
	return out
}
