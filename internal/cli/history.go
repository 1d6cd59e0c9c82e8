package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/scoring"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/util"
)

var errLedgerDisabled = errors.New("the verdict ledger is disabled (set [ledger] enabled = true)")

func newHistoryCmd() *cobra.Command {
	var (
		session string
		outcome string
		project string
		since   string
		limit   int
		export  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded verdicts",
		Long: `List recorded verdicts, newest first.

Reads the JSONL ledger, or the state store when the ledger is disabled.

Examples:
  ace history                        # Last 20 verdicts
  ace history --since 7d             # Past week
  ace history --outcome error        # Failed sessions only
  ace history --session abc123 --json
  ace history --since 30d --export verdicts.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := scoring.Query{
				Session: session,
				Outcome: strings.ToLower(strings.TrimSpace(outcome)),
				Project: project,
			}
			if since != "" {
				t, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				q.Since = t
			}
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			if export != "" {
				return runExport(cmd, export, q.Since)
			}
			return runHistory(cmd, q, limit)
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Only this session")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only this outcome (success, partial, error, abandoned, unknown)")
	cmd.Flags().StringVar(&project, "project", "", "Only this project")
	cmd.Flags().StringVar(&since, "since", "", "Only verdicts newer than this (7d, 36h, 2026-01-02, RFC3339)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum verdicts to show (0 = all)")
	cmd.Flags().StringVar(&export, "export", "", "Write ledger verdicts since --since to this file as a JSON array")

	return cmd
}

func runHistory(cmd *cobra.Command, q scoring.Query, limit int) error {
	s, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	var verdicts []*consensus.Verdict
	switch {
	case s.tracker != nil:
		verdicts, err = s.tracker.QueryVerdicts(q)
		if err != nil {
			return err
		}
	case s.store != nil:
		records, err := s.store.ListVerdicts(0)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if q.Matches(rec.Verdict) {
				verdicts = append(verdicts, rec.Verdict)
			}
		}
	default:
		return fmt.Errorf("no verdict sink is enabled")
	}

	sort.SliceStable(verdicts, func(i, j int) bool {
		return verdicts[i].Timestamp.After(verdicts[j].Timestamp)
	})
	if limit > 0 && len(verdicts) > limit {
		verdicts = verdicts[:limit]
	}

	return newRenderer(cmd).Verdicts(verdicts)
}

func runExport(cmd *cobra.Command, path string, since time.Time) error {
	s, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	if s.tracker == nil {
		return errLedgerDisabled
	}

	path = util.ExpandPath(path)
	if err := s.tracker.Export(path, since); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported verdicts to %s\n", path)
	return nil
}

// parseSince parses an age ("7d", "36h") or an absolute time.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := util.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized --since %q (use 7d, 36h, 2006-01-02 or RFC3339)", s)
}

func newTrendCmd() *cobra.Command {
	var (
		window  int
		project string
	)

	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Show the DQ score trend",
		Long: `Compare the mean DQ score of the earlier and recent halves of the
window. A change beyond the score's own variability is reported as
improving or declining; anything else is stable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if window <= 0 {
				return fmt.Errorf("--window must be positive")
			}
			s, err := openSinks(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			if s.tracker == nil {
				return errLedgerDisabled
			}

			trend, err := s.tracker.AnalyzeTrend(scoring.Query{Project: project}, window)
			if err != nil {
				return err
			}
			return newRenderer(cmd).Trend(trend, window)
		},
	}

	cmd.Flags().IntVarP(&window, "window", "w", scoring.TrendWindowDays, "Window in days")
	cmd.Flags().StringVar(&project, "project", "", "Only this project")

	return cmd
}

func newSummaryCmd() *cobra.Command {
	var (
		by    string
		since string
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate verdicts by outcome or routed model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				t, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				from = t
			}

			s, err := openSinks(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			if s.tracker == nil {
				return errLedgerDisabled
			}

			r := newRenderer(cmd)
			switch strings.ToLower(by) {
			case "outcome":
				summaries, err := s.tracker.SummarizeByOutcome(from)
				if err != nil {
					return err
				}
				return r.OutcomeSummaries(summaries)
			case "model":
				summaries, err := s.tracker.SummarizeByModel(from)
				if err != nil {
					return err
				}
				return r.ModelSummaries(summaries)
			default:
				return fmt.Errorf("invalid --by %q: must be outcome or model", by)
			}
		},
	}

	cmd.Flags().StringVar(&by, "by", "outcome", "Group by: outcome, model")
	cmd.Flags().StringVar(&since, "since", "", "Only verdicts newer than this (7d, 36h, 2006-01-02, RFC3339)")

	return cmd
}
