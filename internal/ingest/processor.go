// Package ingest turns analysis documents into recorded verdicts.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/analysis"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/state"
)

// ErrSink marks a failure to persist a verdict that was otherwise
// synthesized successfully.
var ErrSink = errors.New("persisting verdict")

// Ledger is the append-only verdict log.
type Ledger interface {
	Record(v *consensus.Verdict) error
}

// Store is the per-session verdict store.
type Store interface {
	SaveVerdict(v *consensus.Verdict) (*state.Record, error)
}

// Processor runs the consensus engine over documents and records the
// resulting verdicts. Nil sinks are skipped.
type Processor struct {
	Engine *consensus.Engine
	Ledger Ledger
	Store  Store
	Logger *slog.Logger

	now func() time.Time
}

// NewProcessor returns a processor using the default engine.
func NewProcessor(ledger Ledger, store Store) *Processor {
	return &Processor{
		Engine: consensus.NewEngine(consensus.DefaultConfig()),
		Ledger: ledger,
		Store:  store,
	}
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Processor) engine() *consensus.Engine {
	if p.Engine != nil {
		return p.Engine
	}
	return consensus.NewEngine(consensus.DefaultConfig())
}

func (p *Processor) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// Synthesize runs the engine over doc without recording anything.
func (p *Processor) Synthesize(doc *analysis.Document) (*consensus.Verdict, error) {
	results, transcript, err := doc.Input()
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", doc.SessionID, err)
	}

	res, err := p.engine().Synthesize(results, transcript)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", doc.SessionID, err)
	}

	at := doc.AnalyzedAt
	if at.IsZero() {
		at = p.clock()
	}
	return consensus.NewVerdict(doc.SessionID, doc.Project, res, at), nil
}

// Process synthesizes doc and records the verdict to the ledger, then the
// store. Every sink is attempted; sink failures are joined and wrapped in
// ErrSink, and the verdict is still returned alongside them.
func (p *Processor) Process(ctx context.Context, doc *analysis.Document) (*consensus.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err := p.Synthesize(doc)
	if err != nil {
		return nil, err
	}

	var sinkErrs []error
	if p.Ledger != nil {
		if err := p.Ledger.Record(v); err != nil {
			sinkErrs = append(sinkErrs, fmt.Errorf("ledger: %w", err))
		}
	}
	if p.Store != nil {
		if _, err := p.Store.SaveVerdict(v); err != nil {
			sinkErrs = append(sinkErrs, fmt.Errorf("store: %w", err))
		}
	}

	p.logger().Info("verdict synthesized",
		"session", v.Session,
		"outcome", v.Result.Outcome,
		"quality", v.Result.Quality,
		"dq_score", v.Result.DQScore,
		"confidence", v.Result.Confidence,
		"dissent", v.Result.MinorityOpinion != nil,
	)

	if len(sinkErrs) > 0 {
		err := fmt.Errorf("%w for %s: %w", ErrSink, v.Session, errors.Join(sinkErrs...))
		p.logger().Warn("verdict not fully recorded", "session", v.Session, "error", err)
		return v, err
	}
	return v, nil
}

// ProcessFile loads the document at path and processes it.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*consensus.Verdict, error) {
	doc, err := analysis.LoadFile(path)
	if err != nil {
		return nil, err
	}
	p.logger().Debug("processing analysis document", "path", path, "session", doc.SessionID, "agents", len(doc.Agents))
	return p.Process(ctx, doc)
}
