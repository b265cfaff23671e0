package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kycscan/internal/app"
	"github.com/ppiankov/kycscan/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	batchTags    []string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Screen many targets from a file in parallel",
	Long: `Batch screens every target listed in a file, one per line:

  name|company|additional info

Company and info are optional. Blank lines and lines starting with # are
skipped, and repeated targets are screened once. Every run is saved like
a single screening.

Example:
  kycscan batch targets.txt --keywords fraud,sanctions
  kycscan batch targets.txt --concurrency 4 --output-dir ./reports`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 2, "number of targets screened at once")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "", "write a Markdown report per target to this directory")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "stop starting new targets after this long")
	batchCmd.Flags().StringSliceVar(&batchTags, "keywords", nil, "keyword tag IDs applied to every target")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  kycscan batch screening\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Keywords:     %s\n", strings.Join(batchTags, ", "))
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		batchCtx, cancel := context.WithTimeout(ctx, batchTimeout)
		defer cancel()

		processor := worker.NewBatchProcessor(a.Pipeline, concurrency)
		outcomes, err := processor.ProcessFile(batchCtx, file, batchTags)
		if err != nil {
			return fmt.Errorf("process file: %w", err)
		}

		successCount, failureCount := 0, 0
		for _, o := range outcomes {
			name := o.Target.IndividualName
			if o.Err != nil {
				failureCount++
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", name, o.Err)
				continue
			}
			successCount++

			risk := "unknown"
			if o.Summary != nil {
				risk = strings.ToUpper(string(o.Summary.RiskLevel))
			}
			fmt.Fprintf(os.Stderr, "✓ %s: %s risk (run %s, %s)\n", name, risk, o.SearchID, o.Duration.Round(time.Second))

			if outputDir == "" {
				continue
			}
			detail, err := a.Store.GetRun(ctx, o.SearchID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "✗ %s: load saved run: %v\n", name, err)
				continue
			}
			mdPath := filepath.Join(outputDir, sanitizeFilename(name)+"-"+shortID(o.SearchID)+".md")
			if err := writeOutputs(detail, "", mdPath); err != nil {
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", name, err)
			}
		}

		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
		fmt.Fprintf(os.Stderr, "  Batch Complete\n")
		fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "  Total:     %d targets\n", len(outcomes))
		fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
		fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
		fmt.Fprintf(os.Stderr, "\n")
		return nil
	})
}

// sanitizeFilename turns a name into a safe file name stem
func sanitizeFilename(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '.':
			return '_'
		case ' ', '\t':
			return '-'
		}
		return r
	}, s)
	if s == "" {
		s = "target"
	}
	if r := []rune(s); len(r) > 100 {
		s = string(r[:100])
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
