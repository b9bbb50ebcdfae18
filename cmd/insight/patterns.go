package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/insightd/internal/memory"
)

var (
	// patterns command flags
	paMinSupport int
	paJSON       bool
)

func init() {
	rootCmd.AddCommand(patternsCmd)

	patternsCmd.Flags().IntVar(&paMinSupport, "min-support", 1, "only show patterns seen in at least this many commits")
	patternsCmd.Flags().BoolVar(&paJSON, "json", false, "output results as JSON")
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List recurring findings learned across sessions",
	Long: `List the patterns the memory bank has accumulated across committed
sessions. Effective support decays with time since a pattern was last
confirmed, so stale findings sink.

Examples:
  # All known patterns
  insight patterns

  # Only well-established ones
  insight patterns --min-support 3`,
	Args: cobra.NoArgs,
	RunE: runPatterns,
}

func runPatterns(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	logger, err := newCLILogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	bank, err := memory.OpenRead(cfg.Memory, logger)
	if err != nil {
		return err
	}
	defer bank.Close()

	patterns, err := bank.Patterns(context.Background(), paMinSupport)
	if err != nil {
		return fmt.Errorf("failed to list patterns: %w", err)
	}

	if paJSON {
		return outputJSON(patterns)
	}

	if len(patterns) == 0 {
		fmt.Println("No patterns found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSUPPORT\tEFFECTIVE\tLAST SEEN\tDESCRIPTION")
	for _, p := range patterns {
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%s\t%s\n",
			truncate(p.Key, 32),
			p.Support,
			p.EffectiveSupport,
			p.LastSeen.Local().Format("2006-01-02 15:04"),
			truncate(p.Description, 60),
		)
	}
	return w.Flush()
}
