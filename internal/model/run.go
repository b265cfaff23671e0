package model

import "time"

// RunStatus is the persisted lifecycle state of a screening run
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunComplete   RunStatus = "complete"
	RunError      RunStatus = "error"
)

// StreamStatus is the phase reported in progress events
type StreamStatus string

const (
	StreamSearching StreamStatus = "searching"
	StreamAnalyzing StreamStatus = "analyzing"
	StreamComplete  StreamStatus = "complete"
)

// RiskLevel is the aggregated verdict of a run
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// EntityMatchStats counts analyzed results and how many were about the target
type EntityMatchStats struct {
	TotalResults       int `json:"totalResults"`
	ValidEntityMatches int `json:"validEntityMatches"`
}

// Summary is the aggregated outcome of a run
type Summary struct {
	RiskLevel        RiskLevel         `json:"riskLevel"`
	AdverseFindings  int               `json:"adverseFindings"`
	Recommendation   string            `json:"recommendation"`
	EntityMatchStats *EntityMatchStats `json:"entityMatchStats,omitempty"`
	Keywords         []string          `json:"keywords,omitempty"`
	ScrapingFailures int               `json:"scrapingFailures"`
}

// SearchRun is the persisted header of one screening run
type SearchRun struct {
	ID               string           `json:"id"`
	IndividualName   string           `json:"individualName"`
	CompanyName      string           `json:"companyName,omitempty"`
	AdditionalInfo   string           `json:"additionalInfo,omitempty"`
	Status           RunStatus        `json:"status"`
	Progress         int              `json:"progress"`
	CreatedAt        time.Time        `json:"createdAt"`
	LastUpdatedAt    time.Time        `json:"lastUpdatedAt"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
	RiskLevel        RiskLevel        `json:"riskLevel"`
	AdverseFindings  int              `json:"adverseFindings"`
	Recommendation   string           `json:"recommendation"`
	EntityMatchStats EntityMatchStats `json:"entityMatchStats"`
	KeywordTags      []string         `json:"keywordTags"`
}

// Pending placeholders written when a run header is first created
const (
	PendingRiskLevel      = RiskLow
	PendingRecommendation = "Search in progress"
)

// RunDetail is a run with everything recorded for it
type RunDetail struct {
	Run           SearchRun          `json:"run"`
	Results       []SearchResultItem `json:"results"`
	Sources       []SourceRecord     `json:"sources"`
	Relationships []Relationship     `json:"relationships"`
}
