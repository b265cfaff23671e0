// Package notify publishes run-completed events to downstream consumers.
package notify

import (
	"context"
	"time"

	"github.com/ppiankov/kycscan/internal/model"
)

// RunCompleted is emitted once per run when it reaches a terminal state
type RunCompleted struct {
	SearchID           string          `json:"searchId"`
	IndividualName     string          `json:"individualName"`
	CompanyName        string          `json:"companyName,omitempty"`
	Status             model.RunStatus `json:"status"`
	RiskLevel          model.RiskLevel `json:"riskLevel"`
	AdverseFindings    int             `json:"adverseFindings"`
	Recommendation     string          `json:"recommendation"`
	TotalResults       int             `json:"totalResults"`
	ValidEntityMatches int             `json:"validEntityMatches"`
	KeywordTags        []string        `json:"keywordTags"`
	CompletedAt        time.Time       `json:"completedAt"`
}

// NewRunCompleted builds the event for a run that ended with summary
func NewRunCompleted(searchID string, id model.Identity, status model.RunStatus, summary model.Summary, at time.Time) RunCompleted {
	ev := RunCompleted{
		SearchID:        searchID,
		IndividualName:  id.IndividualName,
		CompanyName:     id.CompanyName,
		Status:          status,
		RiskLevel:       summary.RiskLevel,
		AdverseFindings: summary.AdverseFindings,
		Recommendation:  summary.Recommendation,
		KeywordTags:     summary.Keywords,
		CompletedAt:     at.UTC(),
	}
	if summary.EntityMatchStats != nil {
		ev.TotalResults = summary.EntityMatchStats.TotalResults
		ev.ValidEntityMatches = summary.EntityMatchStats.ValidEntityMatches
	}
	if ev.KeywordTags == nil {
		ev.KeywordTags = []string{}
	}
	return ev
}

// Publisher delivers run-completed events
type Publisher interface {
	Publish(ctx context.Context, ev RunCompleted) error
	Close() error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, RunCompleted) error { return nil }
func (Nop) Close() error { return nil }
