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
	"github.com/ppiankov/kycscan/internal/report"
	"github.com/ppiankov/kycscan/internal/store"
)

var (
	historyLimit  int
	historyOffset int
	historyStatus string
	showJSON      bool
	showDiagram   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Review saved screening runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := model.RunStatus(historyStatus)
		switch status {
		case "", model.RunInProgress, model.RunComplete, model.RunError:
		default:
			return fmt.Errorf("unknown status: %s (supported: in_progress, complete, error)", historyStatus)
		}

		return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
			runs, err := st.ListRuns(ctx, store.ListOptions{Limit: historyLimit, Offset: historyOffset, Status: status})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(os.Stderr, "No saved runs")
				return nil
			}
			for _, r := range runs {
				target := r.IndividualName
				if r.CompanyName != "" {
					target += " (" + r.CompanyName + ")"
				}
				fmt.Printf("%s  %s  %-11s  %-6s  %2d findings  %s\n",
					r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Status,
					strings.ToUpper(string(r.RiskLevel)), r.AdverseFindings, target)
			}
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run as a Markdown report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
			detail, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			switch {
			case showJSON:
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(detail)
			case showDiagram:
				fmt.Print(report.Diagram(detail.Run.IndividualName, detail.Relationships))
				return nil
			default:
				return report.Markdown(os.Stdout, detail)
			}
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run with its results and sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
			if err := st.DeleteRun(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ Deleted %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)

	historyListCmd.Flags().IntVar(&historyLimit, "limit", store.DefaultListLimit, "maximum runs to list")
	historyListCmd.Flags().IntVar(&historyOffset, "offset", 0, "runs to skip")
	historyListCmd.Flags().StringVar(&historyStatus, "status", "", "only runs in this state (in_progress, complete, error)")

	historyShowCmd.Flags().BoolVar(&showJSON, "json", false, "print the run as JSON")
	historyShowCmd.Flags().BoolVar(&showDiagram, "diagram", false, "print only the mermaid relationship diagram")
	historyShowCmd.MarkFlagsMutuallyExclusive("json", "diagram")
}

// withStore opens just the configured store
func withStore(ctx context.Context, fn func(context.Context, store.Store) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close store: %w", closeErr)
		}
	}()
	return fn(ctx, st)
}
