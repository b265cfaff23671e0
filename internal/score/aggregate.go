package score

import (
	"fmt"

	"github.com/ppiankov/kycscan/internal/model"
)

// Risk thresholds on the average score of valid matches
const (
	HighRiskAbove   = 70
	MediumRiskAbove = 40
)

// Recommendation texts
const (
	RecommendNoResults    = "No search results found. Consider refining your search terms."
	RecommendHigh         = "Significant adverse media found. Recommend enhanced due diligence and escalation to compliance team."
	RecommendMedium       = "Some adverse media detected. Consider additional verification and monitoring."
	RecommendLowPartial   = "No significant adverse media detected, but some sources could not be fully analyzed. Consider manual review of search results."
	RecommendLow          = "No significant adverse media detected. Standard KYC procedures appear sufficient."
	recommendNoneRelevant = "No relevant information found about %s. The search results appear to reference different individuals."
)

// Tally accumulates per-result counters while a run progresses
type Tally struct {
	TotalResults       int
	ValidEntityMatches int
	ScrapingFailures   int
	AdverseFindings    int
	TotalRiskScore     int
	Relationships      int
}

// Add counts one analyzed result. Only valid entity matches contribute
// risk, findings and relationships.
func (t *Tally) Add(item model.SearchResultItem, scrapeFailed bool) {
	t.TotalResults++
	if scrapeFailed {
		t.ScrapingFailures++
	}
	if item.EntityMatch == nil || !item.EntityMatch.Valid() {
		return
	}
	t.ValidEntityMatches++
	t.TotalRiskScore += item.RiskScore
	t.AdverseFindings += len(item.AdverseContent)
	t.Relationships += len(item.Relationships)
}

// AverageRisk is the mean risk score over valid matches, 0 when there are none
func (t Tally) AverageRisk() float64 {
	if t.ValidEntityMatches == 0 {
		return 0
	}
	return float64(t.TotalRiskScore) / float64(t.ValidEntityMatches)
}

// Level maps an average risk score onto a risk level
func Level(avg float64) model.RiskLevel {
	switch {
	case avg > HighRiskAbove:
		return model.RiskHigh
	case avg > MediumRiskAbove:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// Aggregate produces the final summary of a run.
//
// Rules, in order:
//   - level from the average risk of valid matches
//   - low escalates to medium when pages failed to scrape while valid
//     matches still reported adverse findings
//   - no valid matches forces low with zero findings and its own message
func Aggregate(individualName string, t Tally, keywords []string) model.Summary {
	level := Level(t.AverageRisk())
	findings := t.AdverseFindings

	if level == model.RiskLow && t.ScrapingFailures > 0 && t.AdverseFindings > 0 && t.ValidEntityMatches > 0 {
		level = model.RiskMedium
	}

	var recommendation string
	switch {
	case t.ValidEntityMatches == 0:
		level = model.RiskLow
		findings = 0
		recommendation = fmt.Sprintf(recommendNoneRelevant, individualName)
	case level == model.RiskHigh:
		recommendation = RecommendHigh
	case level == model.RiskMedium:
		recommendation = RecommendMedium
	case t.ScrapingFailures > 0:
		recommendation = RecommendLowPartial
	default:
		recommendation = RecommendLow
	}

	if t.Relationships > 0 {
		recommendation += fmt.Sprintf(" Identified %d relationship(s) with other individuals or organizations.", t.Relationships)
	}

	if keywords == nil {
		keywords = []string{}
	}

	return model.Summary{
		RiskLevel:       level,
		AdverseFindings: findings,
		Recommendation:  recommendation,
		EntityMatchStats: &model.EntityMatchStats{
			TotalResults:       t.TotalResults,
			ValidEntityMatches: t.ValidEntityMatches,
		},
		Keywords:         keywords,
		ScrapingFailures: t.ScrapingFailures,
	}
}

// NoResults is the summary of a run whose search returned nothing
func NoResults(keywords []string) model.Summary {
	if keywords == nil {
		keywords = []string{}
	}
	return model.Summary{
		RiskLevel:        model.RiskLow,
		AdverseFindings:  0,
		Recommendation:   RecommendNoResults,
		EntityMatchStats: &model.EntityMatchStats{},
		Keywords:         keywords,
	}
}
