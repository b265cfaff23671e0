package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kycscan/internal/app"
)

var keywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "List keyword tags and the search terms they map to",
	Long: `Keywords prints the adverse media dictionary grouped by category.
Pass tag IDs to 'screen --keywords' or 'batch --keywords'. A custom
dictionary can be set with keywords.dictionary_file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		builder, categories, err := app.LoadKeywords(cfg.Keywords)
		if err != nil {
			return err
		}
		dict := builder.Dictionary()

		for _, c := range categories {
			fmt.Printf("%s\n", c.Name)
			for _, tag := range c.Tags {
				fmt.Printf("  %-22s %s\n", tag, dict[tag])
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keywordsCmd)
}
