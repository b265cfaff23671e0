package score

import (
	"strings"
	"testing"

	"github.com/ppiankov/kycscan/internal/model"
)

func item(score int, exact bool, confidence int, adverse ...string) model.SearchResultItem {
	return model.SearchResultItem{
		URL:            "https://example.com",
		RiskScore:      score,
		AdverseContent: adverse,
		EntityMatch:    &model.EntityMatch{IsExactMatch: exact, Confidence: confidence},
		Status:         model.ResultComplete,
	}
}

func TestTally_Add_IgnoresInvalidMatches(t *testing.T) {
	var tally Tally
	tally.Add(item(90, false, 50, "a", "b"), false)
	tally.Add(item(60, true, 40, "c"), true)

	if tally.TotalResults != 2 {
		t.Errorf("TotalResults = %d, want 2", tally.TotalResults)
	}
	if tally.ValidEntityMatches != 1 {
		t.Errorf("ValidEntityMatches = %d, want 1", tally.ValidEntityMatches)
	}
	if tally.TotalRiskScore != 60 {
		t.Errorf("TotalRiskScore = %d, want 60", tally.TotalRiskScore)
	}
	if tally.AdverseFindings != 1 {
		t.Errorf("AdverseFindings = %d, want 1", tally.AdverseFindings)
	}
	if tally.ScrapingFailures != 1 {
		t.Errorf("ScrapingFailures = %d, want 1", tally.ScrapingFailures)
	}
}

func TestAggregate_Levels(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   model.RiskLevel
		rec    string
	}{
		{"high", []int{80, 90}, model.RiskHigh, RecommendHigh},
		{"exactly 70 is medium", []int{70}, model.RiskMedium, RecommendMedium},
		{"medium", []int{50}, model.RiskMedium, RecommendMedium},
		{"exactly 40 is low", []int{40}, model.RiskLow, RecommendLow},
		{"low", []int{0, 10}, model.RiskLow, RecommendLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tally Tally
			for _, s := range tt.scores {
				tally.Add(item(s, true, 100), false)
			}
			got := Aggregate("Jane Doe", tally, nil)
			if got.RiskLevel != tt.want {
				t.Errorf("RiskLevel = %s, want %s", got.RiskLevel, tt.want)
			}
			if got.Recommendation != tt.rec {
				t.Errorf("Recommendation = %q, want %q", got.Recommendation, tt.rec)
			}
		})
	}
}

func TestAggregate_NoValidMatchesOverride(t *testing.T) {
	var tally Tally
	tally.Add(item(95, false, 30, "namesake convicted"), true)
	tally.Add(item(80, false, 69, "another namesake"), false)

	got := Aggregate("Jane Doe", tally, []string{"bedrägeri*"})

	if got.RiskLevel != model.RiskLow {
		t.Errorf("RiskLevel = %s, want low", got.RiskLevel)
	}
	if got.AdverseFindings != 0 {
		t.Errorf("AdverseFindings = %d, want 0", got.AdverseFindings)
	}
	want := "No relevant information found about Jane Doe. The search results appear to reference different individuals."
	if got.Recommendation != want {
		t.Errorf("Recommendation = %q", got.Recommendation)
	}
	if got.EntityMatchStats.TotalResults != 2 || got.EntityMatchStats.ValidEntityMatches != 0 {
		t.Errorf("unexpected stats: %+v", got.EntityMatchStats)
	}
}

func TestAggregate_EscalatesOnScrapingFailures(t *testing.T) {
	tally := Tally{
		TotalResults:       3,
		ValidEntityMatches: 1,
		ScrapingFailures:   1,
		AdverseFindings:    2,
		TotalRiskScore:     20,
	}

	got := Aggregate("Jane Doe", tally, nil)
	if got.RiskLevel != model.RiskMedium {
		t.Errorf("RiskLevel = %s, want medium", got.RiskLevel)
	}
	if got.Recommendation != RecommendMedium {
		t.Errorf("Recommendation = %q", got.Recommendation)
	}
}

func TestAggregate_LowWithFailuresButNoFindings(t *testing.T) {
	tally := Tally{TotalResults: 2, ValidEntityMatches: 1, ScrapingFailures: 1, TotalRiskScore: 10}

	got := Aggregate("Jane Doe", tally, nil)
	if got.RiskLevel != model.RiskLow {
		t.Errorf("RiskLevel = %s, want low", got.RiskLevel)
	}
	if got.Recommendation != RecommendLowPartial {
		t.Errorf("Recommendation = %q", got.Recommendation)
	}
}

func TestAggregate_RelationshipSentence(t *testing.T) {
	it := item(80, true, 90, "fraud")
	it.Relationships = []model.Relationship{{Name: "A"}, {Name: "B"}}

	var tally Tally
	tally.Add(it, false)

	got := Aggregate("Jane Doe", tally, nil)
	if !strings.HasPrefix(got.Recommendation, RecommendHigh) {
		t.Errorf("unexpected recommendation: %q", got.Recommendation)
	}
	if !strings.HasSuffix(got.Recommendation, "Identified 2 relationship(s) with other individuals or organizations.") {
		t.Errorf("missing relationship sentence: %q", got.Recommendation)
	}
}

func TestNoResults(t *testing.T) {
	got := NoResults(nil)
	if got.RiskLevel != model.RiskLow || got.AdverseFindings != 0 || got.Recommendation != RecommendNoResults {
		t.Errorf("unexpected summary: %+v", got)
	}
}
