package report

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/ppiankov/kycscan/internal/model"
)

// Markdown writes a screening report for a stored run
func Markdown(w io.Writer, d *model.RunDetail) error {
	var b strings.Builder
	run := d.Run

	fmt.Fprintf(&b, "# Adverse media screening: %s\n\n", run.IndividualName)
	if run.CompanyName != "" {
		fmt.Fprintf(&b, "- **Company:** %s\n", run.CompanyName)
	}
	if run.AdditionalInfo != "" {
		fmt.Fprintf(&b, "- **Additional info:** %s\n", run.AdditionalInfo)
	}
	if len(run.KeywordTags) > 0 {
		fmt.Fprintf(&b, "- **Keywords:** %s\n", strings.Join(run.KeywordTags, ", "))
	}
	fmt.Fprintf(&b, "- **Run:** `%s` (%s)\n", run.ID, run.Status)
	fmt.Fprintf(&b, "- **Started:** %s\n", run.CreatedAt.Format("2006-01-02 15:04 MST"))
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "- **Completed:** %s\n", run.CompletedAt.Format("2006-01-02 15:04 MST"))
	}

	b.WriteString("\n## Summary\n\n")
	fmt.Fprintf(&b, "**Risk level:** %s  \n", strings.ToUpper(string(run.RiskLevel)))
	fmt.Fprintf(&b, "**Adverse findings:** %d  \n", run.AdverseFindings)
	fmt.Fprintf(&b, "**Entity matches:** %d of %d results\n\n",
		run.EntityMatchStats.ValidEntityMatches, run.EntityMatchStats.TotalResults)
	fmt.Fprintf(&b, "> %s\n", run.Recommendation)

	writeResults(&b, d.Results)
	writeRelationships(&b, run.IndividualName, d.Relationships)
	writeSources(&b, d.Sources)

	_, err := io.WriteString(w, b.String())
	return err
}

// writeResults lists matched results first by risk, then the rest
func writeResults(b *strings.Builder, results []model.SearchResultItem) {
	b.WriteString("\n## Results\n\n")
	if len(results) == 0 {
		b.WriteString("No results were analyzed.\n")
		return
	}

	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(x, y model.SearchResultItem) int {
		if xv, yv := matched(x), matched(y); xv != yv {
			if xv {
				return -1
			}
			return 1
		}
		return y.RiskScore - x.RiskScore
	})

	for i, r := range sorted {
		fmt.Fprintf(b, "### %d. [%s](%s)\n\n", i+1, r.Title, r.URL)
		tier := r.SourceTier
		if tier == model.TierUnknown {
			tier = "unclassified"
		}
		fmt.Fprintf(b, "Risk score %d, source %s", r.RiskScore, tier)
		if r.EntityMatch != nil {
			match := "not the target"
			if matched(r) {
				match = "target match"
			}
			fmt.Fprintf(b, ", %s (%d%%: %s)", match, r.EntityMatch.Confidence, r.EntityMatch.Reason)
		}
		b.WriteString("\n\n")
		if r.Summary != "" {
			fmt.Fprintf(b, "%s\n\n", r.Summary)
		}
		for _, a := range r.AdverseContent {
			fmt.Fprintf(b, "- %s\n", a)
		}
		if len(r.AdverseContent) > 0 {
			b.WriteString("\n")
		}
	}
}

func writeRelationships(b *strings.Builder, target string, rels []model.Relationship) {
	b.WriteString("\n## Relationships\n\n")
	if len(rels) == 0 {
		b.WriteString("No relationships were identified.\n")
		return
	}
	b.WriteString("| Name | Type | Confidence | Description | Source |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, r := range rels {
		source := ""
		if r.SourceURL != "" {
			source = fmt.Sprintf("[%s](%s)", cell(r.SourceTitle), r.SourceURL)
		}
		fmt.Fprintf(b, "| %s | %s | %d%% | %s | %s |\n", cell(r.Name), r.Type, r.Confidence, cell(r.Description), source)
	}
	b.WriteString("\n```mermaid\n")
	b.WriteString(Diagram(target, rels))
	b.WriteString("```\n")
}

func writeSources(b *strings.Builder, sources []model.SourceRecord) {
	b.WriteString("\n## Sources\n\n")
	if len(sources) == 0 {
		b.WriteString("No sources were recorded.\n")
		return
	}
	for _, s := range sources {
		status := s.Status
		if status == "" {
			status = "unknown"
		}
		fmt.Fprintf(b, "- %s `%s`: %s\n", s.SourceType, status, s.URL)
	}
}

func matched(r model.SearchResultItem) bool {
	return r.EntityMatch != nil && r.EntityMatch.Valid()
}

// cell keeps text from breaking a markdown table row
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
