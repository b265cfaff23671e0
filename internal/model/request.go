package model

import (
	"errors"
	"strings"
)

// ErrMissingName is returned when a screening request has no individual name
var ErrMissingName = errors.New("individual name is required")

// SearchRequest is the immutable input of one screening run
type SearchRequest struct {
	IndividualName string   `json:"individualName"`           // Target person (required)
	CompanyName    string   `json:"companyName,omitempty"`    // Associated company
	AdditionalInfo string   `json:"additionalInfo,omitempty"` // Loose extra terms (location, role)
	KeywordTags    []string `json:"keywordTags"`              // Keyword dictionary IDs
	SearchID       string   `json:"searchId,omitempty"`       // Existing run to resume
}

// Normalize trims whitespace from every identity field
func (r SearchRequest) Normalize() SearchRequest {
	r.IndividualName = strings.TrimSpace(r.IndividualName)
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.AdditionalInfo = strings.TrimSpace(r.AdditionalInfo)
	r.SearchID = strings.TrimSpace(r.SearchID)
	return r
}

// Validate checks the request can be screened
func (r SearchRequest) Validate() error {
	if strings.TrimSpace(r.IndividualName) == "" {
		return ErrMissingName
	}
	return nil
}

// Identity returns the target identity part of the request
func (r SearchRequest) Identity() Identity {
	return Identity{
		IndividualName: r.IndividualName,
		CompanyName:    r.CompanyName,
		AdditionalInfo: r.AdditionalInfo,
	}
}

// Identity is the screened subject as stored on a run
type Identity struct {
	IndividualName string `json:"individualName"`
	CompanyName    string `json:"companyName,omitempty"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}
