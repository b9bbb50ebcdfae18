package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/insightd/internal/evaluator"
	"github.com/fyrsmithlabs/insightd/internal/memory"
)

// recurringSupport matches the evaluator's support floor for patterns
// that count as established history.
const recurringSupport = 2

var (
	// evaluate command flags
	evAttach bool
	evJSON   bool
)

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().BoolVar(&evAttach, "attach", false, "persist the evaluation onto the stored session")
	evaluateCmd.Flags().BoolVar(&evJSON, "json", false, "output results as JSON")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <session-id>",
	Short: "Score a stored session",
	Long: `Re-run the evaluator over a committed session and print the scores.

By default nothing is written; --attach persists the evaluation onto the
stored session record.

Examples:
  # Score a session
  insight evaluate 0198aaaa-0000-7000-8000-000000000001

  # Score and persist the result
  insight evaluate 0198aaaa-0000-7000-8000-000000000001 --attach`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	id := args[0]

	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	logger, err := newCLILogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	open := memory.OpenRead
	if evAttach {
		open = memory.Open
	}
	bank, err := open(cfg.Memory, logger)
	if err != nil {
		return err
	}
	defer bank.Close()

	sess, err := bank.Session(ctx, id)
	if err != nil {
		return err
	}

	recent, err := bank.Patterns(ctx, recurringSupport)
	if err != nil {
		fmt.Printf("warning: pattern query failed, scoring without patterns: %v\n", err)
	}

	ev := evaluator.New(cfg.Evaluation, bank, logger).Evaluate(sess, recent)

	if evAttach {
		if err := bank.AttachEvaluation(ctx, id, ev); err != nil {
			return fmt.Errorf("failed to attach evaluation: %w", err)
		}
	}

	if evJSON {
		return outputJSON(ev)
	}

	fmt.Printf("Session: %s\n", id)
	fmt.Printf("Grade: %s\n", ev.Grade)
	fmt.Printf("Quality: %.1f\n", ev.QualityScore)
	fmt.Printf("Performance: %.1f\n", ev.PerformanceScore)
	fmt.Printf("Memory: %.1f\n", ev.MemoryScore)
	fmt.Printf("Overall: %.1f\n", ev.Overall)
	if len(ev.Suggestions) > 0 {
		fmt.Printf("Suggestions:\n")
		for _, s := range ev.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
	}
	if evAttach {
		fmt.Printf("Evaluation attached to the stored session\n")
	}
	return nil
}
