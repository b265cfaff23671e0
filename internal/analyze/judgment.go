package analyze

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ppiankov/kycscan/internal/model"
)

// Judgment is the validated outcome of one analysis
type Judgment struct {
	RiskScore      int                  `json:"riskScore"`
	AdverseContent []string             `json:"adverseContent"`
	Summary        string               `json:"summary"`
	EntityMatch    model.EntityMatch    `json:"entityMatch"`
	Relationships  []model.Relationship `json:"relationships"`
}

// Sanitize zeroes everything risk-bearing when the page is not about the target
func (j Judgment) Sanitize() Judgment {
	if j.AdverseContent == nil {
		j.AdverseContent = []string{}
	}
	if j.Relationships == nil {
		j.Relationships = []model.Relationship{}
	}
	if !j.EntityMatch.Valid() {
		j.RiskScore = 0
		j.AdverseContent = []string{}
		j.Relationships = []model.Relationship{}
	}
	return j
}

// InsufficientContent is returned when there is too little text to judge
func InsufficientContent() Judgment {
	return Judgment{
		RiskScore:      0,
		AdverseContent: []string{"Unable to retrieve full content for analysis"},
		Summary:        "Limited content available for analysis",
		EntityMatch: model.EntityMatch{
			IsExactMatch: false,
			Confidence:   0,
			Reason:       "Insufficient content",
		},
		Relationships: []model.Relationship{},
	}
}

// ErrorJudgment is returned when the model call or its output cannot be used
func ErrorJudgment(v Variant) Judgment {
	msg := "Error analyzing content"
	if v == VariantSnippet {
		msg = "Error analyzing search result"
	}
	return Judgment{
		RiskScore:      0,
		AdverseContent: []string{msg},
		Summary:        msg,
		EntityMatch: model.EntityMatch{
			IsExactMatch: false,
			Confidence:   0,
			Reason:       "Error in analysis",
		},
		Relationships: []model.Relationship{},
	}
}

var errInvalidJudgment = errors.New("invalid judgment")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidJudgment, fmt.Sprintf(format, args...))
}

// decodeJudgment validates a loosely typed JSON object field by field.
// riskScore and entityMatch are required; the rest default when absent.
func decodeJudgment(obj map[string]any) (Judgment, error) {
	var j Judgment

	score, err := percent(obj, "riskScore", true)
	if err != nil {
		return j, err
	}
	j.RiskScore = score

	rawMatch, ok := obj["entityMatch"]
	if !ok || rawMatch == nil {
		return j, invalid("entityMatch missing")
	}
	match, ok := rawMatch.(map[string]any)
	if !ok {
		return j, invalid("entityMatch is %T, want object", rawMatch)
	}
	exact, ok := match["isExactMatch"].(bool)
	if !ok {
		return j, invalid("entityMatch.isExactMatch is %T, want bool", match["isExactMatch"])
	}
	confidence, err := percent(match, "confidence", true)
	if err != nil {
		return j, fmt.Errorf("entityMatch: %w", err)
	}
	reason, err := optionalString(match, "reason")
	if err != nil {
		return j, fmt.Errorf("entityMatch: %w", err)
	}
	j.EntityMatch = model.EntityMatch{IsExactMatch: exact, Confidence: confidence, Reason: reason}

	j.AdverseContent = []string{}
	if raw, ok := obj["adverseContent"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return j, invalid("adverseContent is %T, want list", raw)
		}
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return j, invalid("adverseContent[%d] is %T, want string", i, item)
			}
			if s = strings.TrimSpace(s); s != "" {
				j.AdverseContent = append(j.AdverseContent, s)
			}
		}
	}

	if j.Summary, err = optionalString(obj, "summary"); err != nil {
		return j, err
	}

	j.Relationships = []model.Relationship{}
	if raw, ok := obj["relationships"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return j, invalid("relationships is %T, want list", raw)
		}
		for _, item := range list {
			if rel, ok := decodeRelationship(item); ok {
				j.Relationships = append(j.Relationships, rel)
			}
		}
	}

	return j, nil
}

// decodeRelationship drops malformed entries instead of failing the judgment
func decodeRelationship(item any) (model.Relationship, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return model.Relationship{}, false
	}
	name, _ := m["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Relationship{}, false
	}
	confidence, err := percent(m, "confidence", false)
	if err != nil {
		return model.Relationship{}, false
	}
	typ, _ := m["type"].(string)
	desc, _ := m["description"].(string)

	return model.Relationship{
		Name:        name,
		Type:        model.ParseRelationshipType(strings.ToLower(strings.TrimSpace(typ))),
		Description: strings.TrimSpace(desc),
		Confidence:  confidence,
	}, true
}

func percent(obj map[string]any, key string, required bool) (int, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		if required {
			return 0, invalid("%s missing", key)
		}
		return 0, nil
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, invalid("%s is %T, want number", key, raw)
	}
	if math.IsNaN(f) || f < 0 || f > 100 {
		return 0, invalid("%s %v out of range 0-100", key, f)
	}
	return int(math.Round(f)), nil
}

func optionalString(obj map[string]any, key string) (string, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", invalid("%s is %T, want string", key, raw)
	}
	return s, nil
}
