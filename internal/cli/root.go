// Package cli implements the ace command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/config"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/output"
)

var (
	cfgFile    string
	cfg        *config.Config
	jsonOutput bool
	noColor    bool
	verbose    bool

	// Build information, set by ldflags.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = "unknown"
)

// newRootCmd builds the full command tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ace",
		Short: "Session-outcome consensus engine",
		Long: `ace merges the verdicts of independent session analyzers into one
consensus verdict: outcome, quality, complexity, model efficiency and the
optimal model, with a confidence and any dissent that survived the vote.

Analyzer outputs are read from analysis documents (JSON or YAML), either
given on the command line, dropped into a watched inbox, or POSTed to the
HTTP API. Verdicts are appended to a JSONL ledger and kept per session in
a SQLite store.

Examples:
  ace synthesize session.json          # Print the consensus verdict
  ace synthesize --record *.yaml       # Synthesize and record
  ace history --since 7d               # Recent verdicts
  ace trend                            # DQ score trend
  ace watch                            # Process the inbox as files land
  ace serve --port 8080                # HTTP API`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr())

			if !needsConfig(cmd) {
				return nil
			}

			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if jsonOutput {
				loaded.Output.Format = config.FormatJSON
			}
			if noColor {
				loaded.Output.Color = config.ColorNever
			}
			if errs := config.Validate(loaded); len(errs) > 0 {
				return fmt.Errorf("invalid config: %w", errors.Join(errs...))
			}
			cfg = loaded
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/ace/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format (machine-readable)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newSynthesizeCmd(),
		newHistoryCmd(),
		newShowCmd(),
		newPruneCmd(),
		newTrendCmd(),
		newSummaryCmd(),
		newWatchCmd(),
		newServeCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	if err != nil {
		// SilenceErrors is set so JSON output stays parseable.
		if !jsonOutput {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return err
	}
	return nil
}

// needsConfig reports whether cmd reads configuration. The config
// subcommands inspect the file themselves and must work when it is broken.
func needsConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", "init", "path":
		return false
	}
	return true
}

func setupLogging(w io.Writer) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// IsJSONOutput reports whether output should be JSON.
func IsJSONOutput() bool {
	if jsonOutput {
		return true
	}
	return cfg != nil && cfg.Output.Format == config.FormatJSON
}

func newRenderer(cmd *cobra.Command) *output.Renderer {
	opts := output.Options{Format: output.FormatText, Color: output.ColorAuto}
	if cfg != nil {
		opts.Color = cfg.Output.Color
	}
	if noColor {
		opts.Color = output.ColorNever
	}
	if IsJSONOutput() {
		opts.Format = output.FormatJSON
	}
	return output.New(cmd.OutOrStdout(), opts)
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.OutOrStdout(), short)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	return cmd
}

// VersionResponse is the machine-readable version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuiltAt   string `json:"built_at"`
	BuiltBy   string `json:"built_by"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Engine    string `json:"engine_version"`
}

func runVersion(w io.Writer, short bool) error {
	resp := VersionResponse{
		Version:   Version,
		Commit:    Commit,
		BuiltAt:   Date,
		BuiltBy:   BuiltBy,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Engine:    consensus.Version,
	}

	if jsonOutput {
		return output.New(w, output.Options{Format: output.FormatJSON}).JSON(resp)
	}

	if short {
		fmt.Fprintln(w, resp.Version)
		return nil
	}
	fmt.Fprintf(w, "ace version %s\n", resp.Version)
	fmt.Fprintf(w, "  commit:    %s\n", resp.Commit)
	fmt.Fprintf(w, "  built:     %s\n", resp.BuiltAt)
	fmt.Fprintf(w, "  builder:   %s\n", resp.BuiltBy)
	fmt.Fprintf(w, "  go:        %s\n", resp.GoVersion)
	fmt.Fprintf(w, "  platform:  %s\n", resp.Platform)
	fmt.Fprintf(w, "  engine:    %s\n", resp.Engine)
	return nil
}
