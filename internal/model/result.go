package model

import (
	"encoding/json"
	"time"
)

// ValidMatchConfidence is the confidence at which a non-exact entity match
// still counts towards risk aggregation.
const ValidMatchConfidence = 70

// ResultStatus is the lifecycle state of one analyzed page
type ResultStatus string

const (
	ResultAnalyzing ResultStatus = "analyzing"
	ResultComplete  ResultStatus = "complete"
)

// EntityMatch is the analyzer's judgment of whether a page is about the target
type EntityMatch struct {
	IsExactMatch bool   `json:"isExactMatch"`
	Confidence   int    `json:"confidence"` // 0-100
	Reason       string `json:"reason"`
}

// Valid reports whether the match may contribute to risk aggregation
func (m EntityMatch) Valid() bool {
	return m.IsExactMatch || m.Confidence >= ValidMatchConfidence
}

// RelationshipType classifies a connection between the target and someone else
type RelationshipType string

const (
	RelationshipFamily    RelationshipType = "family"
	RelationshipBusiness  RelationshipType = "business"
	RelationshipPolitical RelationshipType = "political"
	RelationshipCriminal  RelationshipType = "criminal"
	RelationshipOther     RelationshipType = "other"
)

// RelationshipTypes lists every known type in display order
var RelationshipTypes = []RelationshipType{
	RelationshipFamily,
	RelationshipBusiness,
	RelationshipPolitical,
	RelationshipCriminal,
	RelationshipOther,
}

// ParseRelationshipType maps free text onto a known type, defaulting to other
func ParseRelationshipType(s string) RelationshipType {
	for _, t := range RelationshipTypes {
		if string(t) == s {
			return t
		}
	}
	return RelationshipOther
}

// Relationship is a person or organization connected to the target
type Relationship struct {
	Name        string           `json:"name"`
	Type        RelationshipType `json:"type"`
	Description string           `json:"description"`
	Confidence  int              `json:"confidence"`
	SourceURL   string           `json:"sourceUrl,omitempty"`
	SourceTitle string           `json:"sourceTitle,omitempty"`
}

// SearchHit is one ranked entry returned by the search provider
type SearchHit struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// SearchResultItem is one analyzed web page within a run
type SearchResultItem struct {
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	RiskScore      int             `json:"riskScore"`
	AdverseContent []string        `json:"adverseContent"`
	Summary        string          `json:"summary,omitempty"`
	Status         ResultStatus    `json:"status"`
	EntityMatch    *EntityMatch    `json:"entityMatch,omitempty"`
	Relationships  []Relationship  `json:"relationships"`
	SourceTier     AuthorityTier   `json:"sourceTier,omitempty"`
	RawSearchData  json.RawMessage `json:"rawSearchData,omitempty"` // Search hit as returned
	RawCrawlData   json.RawMessage `json:"rawCrawlData,omitempty"`  // Scrape payload as returned
}

// Placeholder returns the "analyzing" entry shown before a hit is processed
func Placeholder(hit SearchHit) SearchResultItem {
	title := hit.Title
	if title == "" {
		title = "No title"
	}
	desc := hit.Description
	if desc == "" {
		desc = "No description"
	}
	return SearchResultItem{
		URL:            hit.URL,
		Title:          title,
		Description:    desc,
		AdverseContent: []string{},
		Relationships:  []Relationship{},
		Status:         ResultAnalyzing,
	}
}

// SourceType distinguishes audit records
type SourceType string

const (
	SourceSearch SourceType = "search"
	SourceCrawl  SourceType = "crawl"
)

// SourceRecord is the audit trail of one external call
type SourceRecord struct {
	SourceType SourceType      `json:"sourceType"`
	URL        string          `json:"url"` // Query text for search, page URL for crawl
	Status     string          `json:"status"`
	RawData    json.RawMessage `json:"rawData,omitempty"`
	Metadata   map[string]any  `json:"metadata"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// SearchSource is the search-step audit block carried in stream events
type SearchSource struct {
	Query   string          `json:"query"`
	Status  string          `json:"status,omitempty"`
	Results []SearchHit     `json:"results"`
	RawData json.RawMessage `json:"rawData,omitempty"`
}

// Sources is the accumulated audit trail of a run
type Sources struct {
	Search SearchSource   `json:"search"`
	Crawl  []SourceRecord `json:"crawl"`
}

// Record converts the search block into a persisted source record
func (s SearchSource) Record(at time.Time) SourceRecord {
	return SourceRecord{
		SourceType: SourceSearch,
		URL:        s.Query,
		Status:     s.Status,
		RawData:    s.RawData,
		Metadata:   map[string]any{"resultCount": len(s.Results)},
		CreatedAt:  at,
	}
}

// AuthorityTier classifies how authoritative a source domain is
type AuthorityTier string

const (
	TierUnknown   AuthorityTier = ""
	TierPrimary   AuthorityTier = "primary"   // Courts, regulators, registries, government
	TierSecondary AuthorityTier = "secondary" // Established news organizations
	TierTertiary  AuthorityTier = "tertiary"  // Blogs, forums, aggregators
)
