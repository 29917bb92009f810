package domain

// RawRecord is whatever a single source hands back. Field names vary per
// source ("Title"/"title"/"Topic Title"), so there is no schema here;
// the normalizer owns the per-source mapping.
type RawRecord map[string]string

// Opportunity is the canonical cross-source record.
type Opportunity struct {
	Fingerprint string `json:"fingerprint"`
	Title       string `json:"title"`
	Agency      string `json:"agency"`
	URL         string `json:"url"`
	PostedDate  string `json:"postedDate"` // YYYY-MM-DD or ""
	CloseDate   string `json:"closeDate"`  // YYYY-MM-DD or ""
	SourceName  string `json:"sourceName"`
	Description string `json:"description"`
	IsNew       bool   `json:"isNew"` // not seen in any previous run
}

type MatchScore struct {
	OpportunityFingerprint string           `json:"opportunityFingerprint"`
	Score                  float64          `json:"score"` // [0,1]
	Rationale              string           `json:"rationale"`
	SuggestedPartners      []PartnerSuggest `json:"suggestedPartners,omitempty"`
}

type PartnerSuggest struct {
	Company   string `json:"company"`
	Reasoning string `json:"reasoning"`
}

// PartnerProject is a candidate small-business partner pulled from the
// SBIR awards feed, fed to the matchmaker alongside each opportunity.
type PartnerProject struct {
	CompanyName  string `json:"companyName"`
	ProjectTitle string `json:"projectTitle"`
	Agency       string `json:"agency"`
	URL          string `json:"url"`
}

// CapabilityProfile describes the organization the scorer matches against.
type CapabilityProfile struct {
	Summary             string `json:"summary"`
	ScopeDescription    string `json:"scopeDescription"`
	PeriodOfPerformance string `json:"periodOfPerformance"`
}
