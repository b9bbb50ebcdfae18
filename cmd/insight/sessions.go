package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/insightd/internal/coordinator"
	"github.com/fyrsmithlabs/insightd/internal/evaluator"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/session"
)

var (
	// sessions command flags
	seJSON  bool
	seLimit int
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRecommitCmd)

	sessionsCmd.PersistentFlags().BoolVar(&seJSON, "json", false, "output results as JSON")
	sessionsListCmd.Flags().IntVar(&seLimit, "limit", 20, "maximum number of sessions to show")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect committed sessions in the memory bank",
	Long: `Inspect the analysis sessions committed to the memory bank.

Examples:
  # List recent sessions
  insight sessions

  # Show one session in full
  insight sessions show 0198aaaa-0000-7000-8000-000000000001

  # Retry a memory write that failed at commit time
  insight sessions recommit 0198aaaa-0000-7000-8000-000000000001`,
	Args: cobra.NoArgs,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List committed sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one committed session in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsRecommitCmd = &cobra.Command{
	Use:   "recommit <session-id>",
	Short: "Retry the memory write for a session rescued at commit time",
	Long: `Retry the memory bank write for a committed session whose first write
failed. The coordinator leaves such sessions as a session.json rescue
artifact next to the run's outputs; recommit replays it into the bank and
removes the artifact on success.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsRecommit,
}

func runSessionsList(cmd *cobra.Command, args []string) error {
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

	bank, err := memory.OpenRead(cfg.Memory, logger)
	if err != nil {
		return err
	}
	defer bank.Close()

	sessions, err := bank.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	// The bank returns commit order, oldest first.
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	if seLimit > 0 && len(sessions) > seLimit {
		sessions = sessions[:seLimit]
	}

	if seJSON {
		return outputJSON(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATASET\tSTATE\tINSIGHTS\tGRADE\tCREATED\tDURATION")
	for _, s := range sessions {
		grade := ""
		if s.Evaluation != nil {
			grade = s.Evaluation.Grade
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncate(s.ID, 12),
			truncate(s.Dataset, 24),
			s.State,
			len(s.Insights),
			grade,
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.TotalDuration().Round(time.Millisecond),
		)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
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

	bank, err := memory.OpenRead(cfg.Memory, logger)
	if err != nil {
		return err
	}
	defer bank.Close()

	sess, err := bank.Session(ctx, args[0])
	if err != nil {
		return err
	}

	if seJSON {
		return outputJSON(sess)
	}
	renderStoredSession(os.Stdout, sess)
	return nil
}

// renderStoredSession prints the full record of a banked session.
func renderStoredSession(w io.Writer, sess *session.Session) {
	fmt.Fprintf(w, "Session: %s\n", sess.ID)
	fmt.Fprintf(w, "Dataset: %s (%d rows, %d columns)\n", sess.Dataset, sess.Rows, len(sess.Schema.Columns))
	fmt.Fprintf(w, "State: %s\n", sess.State)
	fmt.Fprintf(w, "Created: %s\n", sess.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if !sess.CompletedAt.IsZero() {
		fmt.Fprintf(w, "Completed: %s (%s)\n", sess.CompletedAt.Local().Format("2006-01-02 15:04:05"), sess.TotalDuration().Round(time.Millisecond))
	}
	if len(sess.ContextSessions) > 0 {
		fmt.Fprintf(w, "Context sessions: %d\n", len(sess.ContextSessions))
	}
	fmt.Fprintf(w, "Memory persisted: %v\n", sess.MemoryPersisted)

	if len(sess.Insights) > 0 {
		fmt.Fprintf(w, "\nInsights (%d):\n", len(sess.Insights))
		for i, in := range sess.Insights {
			fmt.Fprintf(w, "  %d. [%s %.0f%%] %s\n", i+1, in.Source, in.Confidence*100, in.Text)
		}
	}
	if len(sess.Artifacts) > 0 {
		fmt.Fprintf(w, "\nArtifacts:\n")
		for _, a := range sess.Artifacts {
			fmt.Fprintf(w, "  %s: %s\n", a.Kind, a.Path)
		}
	}
	renderPhases(w, sess)
	if sess.Evaluation != nil {
		fmt.Fprintf(w, "\nEvaluation: %s (quality %.1f, performance %.1f, memory %.1f, overall %.1f)\n",
			sess.Evaluation.Grade,
			sess.Evaluation.QualityScore,
			sess.Evaluation.PerformanceScore,
			sess.Evaluation.MemoryScore,
			sess.Evaluation.Overall)
		for _, s := range sess.Evaluation.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}

func runSessionsRecommit(cmd *cobra.Command, args []string) error {
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

	rescuePath := filepath.Join(cfg.Coordinator.ArtifactsDir, id, coordinator.SessionArtifact)
	sess, err := loadRescueSession(rescuePath)
	if errors.Is(err, fs.ErrNotExist) {
		// A vanished artifact usually means an earlier recommit already
		// landed; confirm against the bank before calling it an error.
		bank, openErr := memory.OpenRead(cfg.Memory, logger)
		if openErr != nil {
			return openErr
		}
		defer bank.Close()
		if banked, bankErr := bank.Session(ctx, id); bankErr == nil && banked.MemoryPersisted {
			fmt.Printf("Session %s is already persisted\n", id)
			return nil
		}
		return fmt.Errorf("no rescue artifact for session %s at %s", id, rescuePath)
	}
	if err != nil {
		return err
	}

	if sess.State != session.StateCommitted {
		return fmt.Errorf("session %s is %s; only committed sessions can be recommitted", id, sess.State)
	}

	bank, err := memory.Open(cfg.Memory, logger)
	if err != nil {
		return err
	}
	defer bank.Close()

	sess.MemoryPersisted = true
	if err := bank.Commit(ctx, sess); err != nil {
		return fmt.Errorf("memory commit failed again: %w", err)
	}

	eval := evaluator.New(cfg.Evaluation, bank, logger)
	eval.Trigger(sess)
	eval.Wait()

	if err := os.Remove(rescuePath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: rescue artifact not removed: %v\n", err)
	}

	fmt.Printf("Session %s recommitted (%d insights persisted)\n", id, len(sess.Insights))
	return nil
}

// loadRescueSession reads a session rescue artifact.
func loadRescueSession(path string) (*session.Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("rescue artifact %s is unreadable: %w", path, err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("rescue artifact %s has no session id", path)
	}
	return &sess, nil
}
