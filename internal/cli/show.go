package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session>",
		Short: "Show the latest verdict for a session",
		Long: `Show the latest verdict recorded for a session, from the state store,
or from the ledger when the store is disabled or has no entry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := args[0]

			s, err := openSinks(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			var v *consensus.Verdict
			if s.store != nil {
				rec, err := s.store.GetVerdict(session)
				if err != nil {
					return err
				}
				if rec != nil {
					v = rec.Verdict
				}
			}
			if v == nil && s.tracker != nil {
				v, err = s.tracker.Latest(session)
				if err != nil {
					return err
				}
			}
			if v == nil {
				return fmt.Errorf("no verdict recorded for session %q", session)
			}

			return newRenderer(cmd).Verdict(v)
		},
	}
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop ledger entries older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSinks(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			if s.tracker == nil {
				return errLedgerDisabled
			}

			if err := s.tracker.Prune(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %s\n", s.tracker.Path())
			return nil
		},
	}
}
