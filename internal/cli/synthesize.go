package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/analysis"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/ingest"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/output"
)

func newSynthesizeCmd() *cobra.Command {
	var (
		record bool
		format string
	)

	cmd := &cobra.Command{
		Use:     "synthesize <file>...",
		Aliases: []string{"synth"},
		Short:   "Synthesize consensus verdicts from analysis documents",
		Long: `Run the consensus engine over one or more analysis documents and
print the verdicts. Use "-" to read a document from stdin.

Documents that fail to load are reported and skipped; the command exits
non-zero if any did.

Examples:
  ace synthesize session.json
  ace synthesize --record inbox/*.yaml
  cat session.yaml | ace synthesize --format yaml -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSynthesize(cmd, args, record, analysis.Format(format))
		},
	}

	cmd.Flags().BoolVar(&record, "record", false, "Record verdicts to the ledger and store")
	cmd.Flags().StringVar(&format, "format", "json", "Format of stdin documents: json, yaml")

	return cmd
}

func runSynthesize(cmd *cobra.Command, paths []string, record bool, stdinFormat analysis.Format) error {
	switch stdinFormat {
	case analysis.FormatJSON, analysis.FormatYAML:
	default:
		return fmt.Errorf("invalid --format %q: must be json or yaml", stdinFormat)
	}

	proc := ingest.NewProcessor(nil, nil)
	if record {
		s, err := openSinks(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		proc = s.processor()
	}

	var (
		verdicts []*consensus.Verdict
		errs     []error
	)
	for _, path := range paths {
		doc, err := loadDocument(cmd.InOrStdin(), path, stdinFormat)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		var v *consensus.Verdict
		if record {
			v, err = proc.Process(cmd.Context(), doc)
		} else {
			v, err = proc.Synthesize(doc)
		}
		if v != nil {
			verdicts = append(verdicts, v)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}

	if err := renderVerdicts(newRenderer(cmd), verdicts, len(paths) == 1); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func loadDocument(stdin io.Reader, path string, stdinFormat analysis.Format) (*analysis.Document, error) {
	if path != "-" {
		return analysis.LoadFile(path)
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	doc, err := analysis.Decode(data, stdinFormat)
	if err != nil {
		return nil, fmt.Errorf("stdin: %w", err)
	}
	slog.Debug("read analysis document from stdin", "session", doc.SessionID, "bytes", len(data))
	return doc, nil
}

// renderVerdicts prints verdicts as cards. In JSON mode a single document
// yields an object and several yield an array.
func renderVerdicts(r *output.Renderer, verdicts []*consensus.Verdict, single bool) error {
	if r.Format() == output.FormatJSON {
		if single {
			if len(verdicts) == 0 {
				return nil
			}
			return r.JSON(verdicts[0])
		}
		if verdicts == nil {
			verdicts = []*consensus.Verdict{}
		}
		return r.JSON(verdicts)
	}
	for i, v := range verdicts {
		if i > 0 {
			if err := r.Blank(); err != nil {
				return err
			}
		}
		if err := r.Verdict(v); err != nil {
			return err
		}
	}
	return nil
}
