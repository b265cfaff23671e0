package query

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/kycscan/internal/model"
)

func TestBuild(t *testing.T) {
	b := NewBuilder(nil)

	tests := []struct {
		name string
		req  model.SearchRequest
		want string
	}{
		{
			name: "name only",
			req:  model.SearchRequest{IndividualName: "Jane Doe"},
			want: "Jane Doe",
		},
		{
			name: "keywords and company",
			req: model.SearchRequest{
				IndividualName: "Jane Doe",
				CompanyName:    "Acme",
				KeywordTags:    []string{"fraud", "sanctions"},
			},
			want: "Jane Doe AND (bedrägeri* OR sanktion*) OR (Acme AND (bedrägeri* OR sanktion*))",
		},
		{
			name: "company without keywords",
			req:  model.SearchRequest{IndividualName: "Jane Doe", CompanyName: "Acme"},
			want: "Jane Doe OR Acme",
		},
		{
			name: "additional info trails",
			req: model.SearchRequest{
				IndividualName: "Jane Doe",
				AdditionalInfo: "Stockholm",
				KeywordTags:    []string{"crime"},
			},
			want: "Jane Doe AND (brott*) Stockholm",
		},
		{
			name: "unknown tags dropped",
			req: model.SearchRequest{
				IndividualName: "Jane Doe",
				KeywordTags:    []string{"unicorns", "bribery", "bribery"},
			},
			want: "Jane Doe AND (mut*)",
		},
		{
			name: "only unknown tags",
			req:  model.SearchRequest{IndividualName: "Jane Doe", KeywordTags: []string{"nope"}},
			want: "Jane Doe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Build(tt.req)
			if got.Text != tt.want {
				t.Errorf("Build() = %q, want %q", got.Text, tt.want)
			}
		})
	}
}

func TestBuild_TermOrderFollowsInput(t *testing.T) {
	b := NewBuilder(Dictionary{"a": "alpha", "b": "beta"})

	q := b.Build(model.SearchRequest{IndividualName: "X", KeywordTags: []string{"b", "a"}})
	if q.Text != "X AND (beta OR alpha)" {
		t.Errorf("unexpected query: %q", q.Text)
	}
	if len(q.Terms) != 2 || q.Terms[0] != "beta" {
		t.Errorf("unexpected terms: %v", q.Terms)
	}
}

func TestFallbackQuery(t *testing.T) {
	got := FallbackQuery(model.SearchRequest{IndividualName: "Jane Doe", AdditionalInfo: "Malmö"})
	if got != "Jane Doe Malmö" {
		t.Errorf("FallbackQuery() = %q", got)
	}
}

func TestDefaultCategories_CoverDictionary(t *testing.T) {
	dict := DefaultDictionary()
	seen := make(map[string]bool)
	for _, c := range DefaultCategories() {
		for _, tag := range c.Tags {
			if _, ok := dict[tag]; !ok {
				t.Errorf("category %s references unknown tag %s", c.ID, tag)
			}
			seen[tag] = true
		}
	}
	for id := range dict {
		if !seen[id] {
			t.Errorf("tag %s not in any category", id)
		}
	}
}

func TestLoadDictionary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "en.yaml")
	content := "tags:\n  fraud: \"fraud*\"\n  sanctions: \"sanction*\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dict, cats, err := LoadDictionary(path)
	if err != nil {
		t.Fatalf("LoadDictionary failed: %v", err)
	}
	if dict["fraud"] != "fraud*" {
		t.Errorf("unexpected term for fraud: %q", dict["fraud"])
	}
	if len(cats) != 1 || len(cats[0].Tags) != 2 {
		t.Errorf("expected single catch-all category, got %+v", cats)
	}

	q := NewBuilder(dict).Build(model.SearchRequest{IndividualName: "John Roe", KeywordTags: []string{"sanctions"}})
	if q.Text != "John Roe AND (sanction*)" {
		t.Errorf("unexpected query: %q", q.Text)
	}
}

func TestLoadDictionary_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("tags: {}\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := LoadDictionary(path); err == nil {
		t.Error("expected error for empty dictionary")
	}
}
