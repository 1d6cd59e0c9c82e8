package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/ingest"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/util"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var (
		debounce     time.Duration
		processedDir string
		noScan       bool
	)

	cmd := &cobra.Command{
		Use:     "watch [dir]",
		Aliases: []string{"w"},
		Short:   "Synthesize analysis documents as they land in the inbox",
		Long: `Watch an inbox directory and run the consensus engine over every
analysis document (.json, .yaml, .yml) written to it. Verdicts are recorded
to the ledger and store and printed as they arrive.

Documents already in the inbox are processed at startup unless --no-scan
is given. Successfully processed documents are moved to the processed
directory when one is configured; failed ones stay where they are.

Examples:
  ace watch                              # Inbox from config
  ace watch ./inbox --processed-dir ./done
  ace watch --debounce 2s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cfg.Watch.Dir
			if len(args) > 0 {
				dir = util.ExpandPath(args[0])
			}
			if !cmd.Flags().Changed("debounce") {
				debounce = cfg.Watch.Debounce()
			}
			if !cmd.Flags().Changed("processed-dir") {
				processedDir = cfg.Watch.ProcessedDir
			}
			return runWatch(cmd, dir, debounce, util.ExpandPath(processedDir), !noScan)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce, "Quiet period before a document is processed")
	cmd.Flags().StringVar(&processedDir, "processed-dir", "", "Move processed documents here")
	cmd.Flags().BoolVar(&noScan, "no-scan", false, "Ignore documents already in the inbox")

	return cmd
}

func runWatch(cmd *cobra.Command, dir string, debounce time.Duration, processedDir string, scan bool) error {
	if debounce < 0 {
		return fmt.Errorf("--debounce must be >= 0")
	}

	s, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	proc := s.processor()
	r := newRenderer(cmd)

	handler := func(ctx context.Context, path string) error {
		v, err := proc.ProcessFile(ctx, path)
		if v != nil {
			if rerr := r.Verdict(v); rerr != nil {
				slog.Warn("rendering verdict failed", "session", v.Session, "error", rerr)
			}
		}
		if errors.Is(err, ingest.ErrSink) {
			// The verdict exists; leaving the file would only repeat it.
			return nil
		}
		return err
	}

	w, err := watcher.New(dir, handler,
		watcher.WithDebounce(debounce),
		watcher.WithProcessedDir(processedDir),
		watcher.WithScanExisting(scan),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !IsJSONOutput() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s for analysis documents (Ctrl+C to stop)\n", w.Dir())
	}
	slog.Debug("verdict sinks", "ledger", s.tracker != nil, "store", s.store != nil)

	return w.Run(ctx)
}
