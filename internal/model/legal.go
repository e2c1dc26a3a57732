package model

import "time"

// LegalUpdate is a dated change in a state's law or policy.
type LegalUpdate struct {
	Date        string `json:"date" yaml:"date"`
	Description string `json:"description" yaml:"description"`
	Impact      string `json:"impact,omitempty" yaml:"impact,omitempty"`
}

// OfficialDocument is a statute, regulation, or form published by the state.
type OfficialDocument struct {
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
}

// LegalResource is an organization or guide that helps with legal questions.
type LegalResource struct {
	Name        string `json:"name" yaml:"name"`
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// HealthDeptInfo describes the state health department. Every field is
// optional.
type HealthDeptInfo struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Website string `json:"website,omitempty" yaml:"website,omitempty"`
	Phone   string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email   string `json:"email,omitempty" yaml:"email,omitempty"`
}

// IsZero reports whether no sub-field is set.
func (h HealthDeptInfo) IsZero() bool {
	return h == HealthDeptInfo{}
}

// NewsArticle is a news item about a state's reproductive-health law.
type NewsArticle struct {
	Title   string `json:"title" yaml:"title"`
	URL     string `json:"url" yaml:"url"`
	Source  string `json:"source,omitempty" yaml:"source,omitempty"`
	Date    string `json:"date,omitempty" yaml:"date,omitempty"`
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`
	State   string `json:"state,omitempty" yaml:"state,omitempty"`
}

// EmergencyContact is a hotline or support line.
type EmergencyContact struct {
	Name        string `json:"name" yaml:"name"`
	Phone       string `json:"phone" yaml:"phone"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// LegalInfo is the legal-information content for one state. The JSON field
// names are read by the web front end and the notification broadcaster.
type LegalInfo struct {
	Restrictions      []string           `json:"restrictions" yaml:"restrictions"`
	Requirements      []string           `json:"requirements" yaml:"requirements"`
	RecentUpdates     []LegalUpdate      `json:"recentUpdates" yaml:"recent_updates"`
	SourceURLs        []string           `json:"sourceUrls" yaml:"source_urls"`
	OfficialDocuments []OfficialDocument `json:"officialDocuments" yaml:"official_documents"`
	LegalResources    []LegalResource    `json:"legalResources" yaml:"legal_resources"`
	StateWebsite      string             `json:"stateWebsite" yaml:"state_website"`
	HealthDept        HealthDeptInfo     `json:"healthDeptInfo" yaml:"health_dept"`
	NewsArticles      []NewsArticle      `json:"newsArticles" yaml:"news_articles"`
	EmergencyContacts []EmergencyContact `json:"emergencyContacts" yaml:"emergency_contacts"`
	AdditionalNotes   string             `json:"additionalNotes" yaml:"additional_notes"`
}

// IsEmpty reports whether no field carries a value.
func (l LegalInfo) IsEmpty() bool {
	return len(l.Restrictions) == 0 &&
		len(l.Requirements) == 0 &&
		len(l.RecentUpdates) == 0 &&
		len(l.SourceURLs) == 0 &&
		len(l.OfficialDocuments) == 0 &&
		len(l.LegalResources) == 0 &&
		l.StateWebsite == "" &&
		l.HealthDept.IsZero() &&
		len(l.NewsArticles) == 0 &&
		len(l.EmergencyContacts) == 0 &&
		l.AdditionalNotes == ""
}

// HasFacts reports whether the record says anything about the law itself.
// Provenance fields (source URLs, the state website, the health department)
// do not count: any page that loads supplies those.
func (l LegalInfo) HasFacts() bool {
	return len(l.Restrictions) > 0 ||
		len(l.Requirements) > 0 ||
		len(l.RecentUpdates) > 0 ||
		len(l.OfficialDocuments) > 0 ||
		len(l.LegalResources) > 0 ||
		len(l.NewsArticles) > 0 ||
		len(l.EmergencyContacts) > 0 ||
		l.AdditionalNotes != ""
}

// LegalInfoPartial is one source's contribution for one state. A zero field
// means the source had no opinion on it.
type LegalInfoPartial struct {
	Source string `json:"source"`
	LegalInfo
}

// StoredLegalInfo is a persisted legal-information row keyed by state name.
type StoredLegalInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
	LegalInfo
	EffectiveDate time.Time `json:"effectiveDate"`
	LastVerified  time.Time `json:"lastVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
