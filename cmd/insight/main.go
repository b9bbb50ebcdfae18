// Package main implements the insight CLI for running analyses and
// inspecting the memory bank from the command line.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/logging"
)

var (
	// cfgFile overrides the default config location
	cfgFile string
	// verbose keeps the daemon-level log output instead of the quiet
	// CLI default
	verbose bool
	// version information (set via ldflags during build)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "insight",
	Short: "CLI for the insightd analysis coordinator",
	Long: `insight runs dataset analyses and inspects the durable memory bank.

Most commands work directly against the local data directory; health talks
to a running insightd daemon over HTTP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults to $XDG_CONFIG_HOME/insightd/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "show info-level logs during command execution")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("insight by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

// loadCLIConfig loads configuration from the --config flag or the
// default search path.
func loadCLIConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadWithFile(cfgFile)
	}
	return config.Load()
}

// newCLILogger builds a logger tuned for interactive use: console
// encoding, warnings only unless --verbose, no OTEL bridge.
func newCLILogger(cfg *config.Config) (*logging.Logger, error) {
	lc := cfg.Logging
	lc.Format = logging.FormatConsole
	lc.Output.Stdout = true
	lc.Output.OTEL = false
	lc.Caller.Enabled = false
	if !verbose {
		lc.Level = zapcore.WarnLevel
	}
	return logging.NewLogger(&lc, nil)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
