package jsonx

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantOK    bool
		wantScore float64
	}{
		{
			name:      "plain json",
			input:     `{"riskScore": 10, "summary": "ok"}`,
			wantOK:    true,
			wantScore: 10,
		},
		{
			name:      "fenced json block",
			input:     "Here is the result:\n```json\n{\"riskScore\":10,\"entityMatch\":{\"isExactMatch\":true}}\n```",
			wantOK:    true,
			wantScore: 10,
		},
		{
			name:      "bare fence",
			input:     "```\n{\"riskScore\": 25}\n```\nthanks",
			wantOK:    true,
			wantScore: 25,
		},
		{
			name:      "object embedded in prose",
			input:     `Sure. {"riskScore": 40, "entityMatch": {"confidence": 80}} Let me know.`,
			wantOK:    true,
			wantScore: 40,
		},
		{
			name:      "braces inside strings",
			input:     `Result: {"riskScore": 5, "summary": "uses } and { freely"} done`,
			wantOK:    true,
			wantScore: 5,
		},
		{
			name:   "prose only",
			input:  "I could not find anything about this person.",
			wantOK: false,
		},
		{
			name:   "unbalanced",
			input:  `{"riskScore": 5`,
			wantOK: false,
		},
		{
			name:   "array is not an object",
			input:  `[1, 2, 3]`,
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "   ",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, ok := Extract(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Extract() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				if obj != nil {
					t.Errorf("expected nil object on failure, got %v", obj)
				}
				return
			}
			if got, _ := obj["riskScore"].(float64); got != tt.wantScore {
				t.Errorf("riskScore = %v, want %v", got, tt.wantScore)
			}
		})
	}
}
