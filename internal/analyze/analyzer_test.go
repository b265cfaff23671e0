package analyze

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/kycscan/internal/llm"
)

type fakeProvider struct {
	text    string
	err     error
	prompts []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.text}, nil
}

func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return true }

var subject = Subject{
	IndividualName: "Jane Doe",
	CompanyName:    "Acme",
	AdditionalInfo: "Stockholm",
	Keywords:       []string{"bedrägeri*"},
}

var longContent = strings.Repeat("Jane Doe was charged with fraud in Stockholm. ", 5)

func TestAnalyzeContent_ValidMatch(t *testing.T) {
	p := &fakeProvider{text: "```json\n" + `{
		"riskScore": 80,
		"adverseContent": ["Charged with fraud"],
		"summary": "Fraud charges",
		"entityMatch": {"isExactMatch": true, "confidence": 95, "reason": "Name and city match"},
		"relationships": [{"name": "John Roe", "type": "business", "description": "Co-founder", "confidence": 80}]
	}` + "\n```"}

	j := New(p, nil).AnalyzeContent(context.Background(), subject, longContent)

	if j.RiskScore != 80 {
		t.Errorf("RiskScore = %d, want 80", j.RiskScore)
	}
	if len(j.AdverseContent) != 1 || j.AdverseContent[0] != "Charged with fraud" {
		t.Errorf("unexpected adverse content: %v", j.AdverseContent)
	}
	if len(j.Relationships) != 1 || j.Relationships[0].Type != "business" {
		t.Errorf("unexpected relationships: %+v", j.Relationships)
	}
}

func TestAnalyzeContent_GatesNamesake(t *testing.T) {
	p := &fakeProvider{text: `{
		"riskScore": 90,
		"adverseContent": ["Convicted of bribery"],
		"summary": "Different Jane Doe",
		"entityMatch": {"isExactMatch": false, "confidence": 50, "reason": "Different city"},
		"relationships": [{"name": "X", "type": "criminal", "confidence": 90}]
	}`}

	j := New(p, nil).AnalyzeContent(context.Background(), subject, longContent)

	if j.RiskScore != 0 {
		t.Errorf("RiskScore = %d, want 0 for non-match", j.RiskScore)
	}
	if len(j.AdverseContent) != 0 {
		t.Errorf("expected empty adverse content, got %v", j.AdverseContent)
	}
	if j.Relationships == nil || len(j.Relationships) != 0 {
		t.Errorf("expected empty relationships, got %v", j.Relationships)
	}
	if j.EntityMatch.Confidence != 50 {
		t.Errorf("entity match should be preserved, got %+v", j.EntityMatch)
	}
}

func TestAnalyzeContent_InsufficientContent(t *testing.T) {
	p := &fakeProvider{}
	j := New(p, nil).AnalyzeContent(context.Background(), subject, "too short")

	if len(p.prompts) != 0 {
		t.Error("model should not be called for short content")
	}
	if j.EntityMatch.Reason != "Insufficient content" {
		t.Errorf("unexpected reason: %q", j.EntityMatch.Reason)
	}
	if len(j.AdverseContent) != 1 || j.AdverseContent[0] != "Unable to retrieve full content for analysis" {
		t.Errorf("unexpected adverse content: %v", j.AdverseContent)
	}
}

func TestAnalyze_ErrorJudgments(t *testing.T) {
	tests := []struct {
		name string
		p    *fakeProvider
	}{
		{"provider error", &fakeProvider{err: errors.New("connection refused")}},
		{"prose", &fakeProvider{text: "I cannot help with that."}},
		{"missing entityMatch", &fakeProvider{text: `{"riskScore": 10}`}},
		{"score out of range", &fakeProvider{text: `{"riskScore": 140, "entityMatch": {"isExactMatch": true, "confidence": 90}}`}},
		{"score as string", &fakeProvider{text: `{"riskScore": "high", "entityMatch": {"isExactMatch": true, "confidence": 90}}`}},
		{"adverse content not strings", &fakeProvider{text: `{"riskScore": 10, "adverseContent": [1, 2], "entityMatch": {"isExactMatch": true, "confidence": 90}}`}},
		{"isExactMatch not bool", &fakeProvider{text: `{"riskScore": 10, "entityMatch": {"isExactMatch": "yes", "confidence": 90}}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.p, nil)

			j := a.AnalyzeContent(context.Background(), subject, longContent)
			if j.Summary != "Error analyzing content" || j.EntityMatch.Reason != "Error in analysis" {
				t.Errorf("unexpected content judgment: %+v", j)
			}
			if j.RiskScore != 0 || len(j.Relationships) != 0 {
				t.Errorf("error judgment must carry no risk: %+v", j)
			}

			j = a.AnalyzeSnippet(context.Background(), subject, Snippet{Title: "t", URL: "https://example.com"})
			if len(j.AdverseContent) != 1 || j.AdverseContent[0] != "Error analyzing search result" {
				t.Errorf("unexpected snippet judgment: %+v", j)
			}
		})
	}
}

func TestAnalyzeSnippet_PromptCarriesMetadata(t *testing.T) {
	p := &fakeProvider{text: `{"riskScore": 0, "entityMatch": {"isExactMatch": false, "confidence": 20, "reason": "unclear"}}`}

	j := New(p, nil).AnalyzeSnippet(context.Background(), subject, Snippet{
		Title:       "Acme chief questioned",
		Description: "Police questioned the CEO",
		URL:         "https://news.example.com/acme",
	})

	if len(p.prompts) != 1 {
		t.Fatalf("expected one prompt, got %d", len(p.prompts))
	}
	prompt := p.prompts[0]
	for _, want := range []string{`"Jane Doe"`, "ASSOCIATED COMPANY: Acme", "ADDITIONAL CONTEXT: Stockholm", "bedrägeri*", "Title: Acme chief questioned", "URL: https://news.example.com/acme", "STEP 3: RELATIONSHIPS"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if j.Relationships == nil {
		t.Error("relationships should default to an empty list")
	}
}

func TestDecodeJudgment_DropsBadRelationships(t *testing.T) {
	j, err := parse(`{
		"riskScore": 55.4,
		"entityMatch": {"isExactMatch": false, "confidence": 75},
		"relationships": [
			{"name": "", "type": "family"},
			{"name": "Ann Doe", "type": "Family", "confidence": 90},
			{"name": "Mystery Corp", "type": "partner", "confidence": 60},
			{"name": "Too Sure", "type": "other", "confidence": 300},
			"not an object"
		]
	}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if j.RiskScore != 55 {
		t.Errorf("RiskScore = %d, want 55", j.RiskScore)
	}
	if len(j.Relationships) != 2 {
		t.Fatalf("expected 2 relationships, got %+v", j.Relationships)
	}
	if j.Relationships[0].Type != "family" || j.Relationships[1].Type != "other" {
		t.Errorf("unexpected types: %+v", j.Relationships)
	}
}
