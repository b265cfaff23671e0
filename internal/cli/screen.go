package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kycscan/internal/app"
	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/progress"
	"github.com/ppiankov/kycscan/internal/report"
)

var (
	companyName    string
	additionalInfo string
	keywordTags    []string
	resumeID       string
	outJSON        string
	outMD          string
)

// screenCmd represents the screen command
var screenCmd = &cobra.Command{
	Use:   "screen <name>",
	Short: "Screen one person for adverse media",
	Long: `Screen runs one adverse media search for a person:
- Build a search query from the name, company, extra info and keywords
- Fetch and analyze the top results with a language model
- Keep only findings about the target (exact match or confidence >= 70)
- Aggregate a risk level and recommendation and save the run

Example:
  kycscan screen "Anna Svensson" --company "Acme AB" --keywords fraud,corruption
  kycscan screen "Anna Svensson" --md report.md --json run.json
  kycscan screen "Anna Svensson" --resume 3f2c...`,
	Args: cobra.ExactArgs(1),
	RunE: runScreen,
}

func init() {
	rootCmd.AddCommand(screenCmd)

	screenCmd.Flags().StringVar(&companyName, "company", "", "associated company")
	screenCmd.Flags().StringVar(&additionalInfo, "info", "", "additional terms (location, role)")
	screenCmd.Flags().StringSliceVar(&keywordTags, "keywords", nil, "keyword tag IDs (see 'kycscan keywords')")
	screenCmd.Flags().StringVar(&resumeID, "resume", "", "existing run ID to continue")
	screenCmd.Flags().StringVar(&outJSON, "json", "", "write the saved run as JSON to this path")
	screenCmd.Flags().StringVar(&outMD, "md", "", "write a Markdown report to this path")
}

func runScreen(cmd *cobra.Command, args []string) error {
	req := model.SearchRequest{
		IndividualName: args[0],
		CompanyName:    companyName,
		AdditionalInfo: additionalInfo,
		KeywordTags:    keywordTags,
		SearchID:       resumeID,
	}.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		snap, err := a.Pipeline.Run(ctx, req, progress.SinkFunc(printEvent))
		printSnapshot(snap)
		if err != nil {
			return fmt.Errorf("screening failed (run %s): %w", snap.SearchID, err)
		}

		if outJSON == "" && outMD == "" {
			return nil
		}
		detail, err := a.Store.GetRun(ctx, snap.SearchID)
		if err != nil {
			return fmt.Errorf("load saved run: %w", err)
		}
		return writeOutputs(detail, outJSON, outMD)
	})
}

func printEvent(e progress.Event) {
	if !verbose || e.Terminal() {
		return
	}
	fmt.Fprintf(os.Stderr, "  [%3d%%] %s\n", e.Progress, e.Status)
}

func printSnapshot(s progress.Snapshot) {
	if s.Summary == nil {
		return
	}
	sum := s.Summary
	fmt.Printf("Run:              %s\n", s.SearchID)
	fmt.Printf("Risk level:       %s\n", strings.ToUpper(string(sum.RiskLevel)))
	fmt.Printf("Adverse findings: %d\n", sum.AdverseFindings)
	if st := sum.EntityMatchStats; st != nil {
		fmt.Printf("Entity matches:   %d of %d results\n", st.ValidEntityMatches, st.TotalResults)
	}
	if sum.ScrapingFailures > 0 {
		fmt.Printf("Fetch failures:   %d\n", sum.ScrapingFailures)
	}
	fmt.Printf("Recommendation:   %s\n", sum.Recommendation)

	for _, r := range s.Results {
		if r.EntityMatch == nil || !r.EntityMatch.Valid() {
			continue
		}
		fmt.Printf("\n  [%3d] %s\n        %s\n", r.RiskScore, r.Title, r.URL)
		for _, c := range r.AdverseContent {
			fmt.Printf("        - %s\n", c)
		}
	}
}

func writeOutputs(detail *model.RunDetail, jsonPath, mdPath string) error {
	if jsonPath != "" {
		data, err := json.MarshalIndent(detail, "", "  ")
		if err != nil {
			return fmt.Errorf("encode run: %w", err)
		}
		if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", jsonPath)
	}
	if mdPath != "" {
		f, err := os.Create(mdPath)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		if err := report.Markdown(f, detail); err != nil {
			_ = f.Close()
			return fmt.Errorf("write report: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", mdPath)
	}
	return nil
}
