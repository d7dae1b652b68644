package pipeline

import (
	"strings"

	"github.com/noah-isme/academy-crm-api/internal/models"
	"github.com/noah-isme/academy-crm-api/pkg/phone"
)

// Sentinels accepted by the stage and source filters to mean "no restriction".
const (
	StageAll  models.LeadStage  = "all"
	SourceAll models.LeadSource = "all"
)

// minPhoneQueryDigits keeps short numeric queries from matching every phone number.
const minPhoneQueryDigits = 3

// Filter is the board's search box plus its stage and source dropdowns.
// The zero value matches every lead.
type Filter struct {
	Query  string
	Stage  models.LeadStage
	Source models.LeadSource
	// Region resolves local-format phone numbers typed into the search box.
	Region string
}

// ParseFilter validates raw query parameters. Empty values mean "all".
func ParseFilter(query, stage, source string) (Filter, error) {
	f := Filter{Query: strings.TrimSpace(query), Stage: StageAll, Source: SourceAll}

	if s := strings.TrimSpace(stage); s != "" && !strings.EqualFold(s, string(StageAll)) {
		parsed, err := models.ParseLeadStage(s)
		if err != nil {
			return Filter{}, err
		}
		f.Stage = parsed
	}
	if s := strings.TrimSpace(source); s != "" && !strings.EqualFold(s, string(SourceAll)) {
		parsed, err := models.ParseLeadSource(s)
		if err != nil {
			return Filter{}, err
		}
		f.Source = parsed
	}
	return f, nil
}

// Matches is the AND of the query, stage and source predicates.
func (f Filter) Matches(lead models.Lead) bool {
	if f.Stage != "" && f.Stage != StageAll && lead.Stage != f.Stage {
		return false
	}
	if f.Source != "" && f.Source != SourceAll && lead.Source != f.Source {
		return false
	}
	return matchesQuery(lead, f.Query, f.Region)
}

// Apply returns the matching leads in their original order.
func (f Filter) Apply(leads []models.Lead) []models.Lead {
	out := make([]models.Lead, 0, len(leads))
	for _, lead := range leads {
		if f.Matches(lead) {
			out = append(out, lead)
		}
	}
	return out
}

// IsZero reports whether the filter restricts nothing.
func (f Filter) IsZero() bool {
	return strings.TrimSpace(f.Query) == "" &&
		(f.Stage == "" || f.Stage == StageAll) &&
		(f.Source == "" || f.Source == SourceAll)
}

func matchesQuery(lead models.Lead, query, region string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	fields := [...]string{lead.Name, lead.Email, lead.Phone, lead.Instrument, string(lead.Source), lead.Notes}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return matchesPhone(lead.Phone, q, region)
}

// matchesPhone compares digits only, so "024 412 3456", "0244123456" and "+233244123456"
// all find the same lead. Both sides are also tried in E.164 form.
func matchesPhone(stored, query, region string) bool {
	if stored == "" || !phoneLike(query) {
		return false
	}
	digits := phone.Digits(query)
	if len(digits) < minPhoneQueryDigits {
		return false
	}
	if region == "" {
		region = phone.DefaultRegion
	}

	storedForms := []string{phone.Digits(stored), phone.Digits(phone.NormalizeE164InRegion(stored, region))}
	queryForms := []string{digits, phone.Digits(phone.NormalizeE164InRegion(query, region))}
	for _, s := range storedForms {
		for _, q := range queryForms {
			if q != "" && strings.Contains(s, q) {
				return true
			}
		}
	}
	return false
}

func phoneLike(query string) bool {
	for _, r := range query {
		switch {
		case r >= '0' && r <= '9':
		case r == ' ', r == '+', r == '-', r == '(', r == ')', r == '.':
		default:
			return false
		}
	}
	return true
}
