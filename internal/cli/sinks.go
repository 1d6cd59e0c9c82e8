package cli

import (
	"errors"
	"fmt"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/config"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/ingest"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/scoring"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/state"
)

// sinks holds the verdict ledger and store enabled in the config. Either
// may be nil.
type sinks struct {
	tracker *scoring.Tracker
	store   *state.Store
}

func openSinks(c *config.Config) (*sinks, error) {
	s := &sinks{}

	if c.Ledger.Enabled {
		tracker, err := scoring.NewTracker(scoring.TrackerOptions{
			Path:          c.Ledger.Path,
			RetentionDays: c.Ledger.RetentionDays,
			Enabled:       true,
		})
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		s.tracker = tracker
	}

	if c.Store.Enabled {
		store, err := state.Open(c.Store.Path)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open state store: %w", err)
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			s.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		s.store = store
	}

	return s, nil
}

// processor returns a processor recording to the open sinks. A disabled
// tracker is left out.
func (s *sinks) processor() *ingest.Processor {
	p := ingest.NewProcessor(nil, nil)
	if s.tracker != nil && s.tracker.Enabled() {
		p.Ledger = s.tracker
	}
	if s.store != nil {
		p.Store = s.store
	}
	return p
}

func (s *sinks) Close() error {
	var errs []error
	if s.tracker != nil {
		errs = append(errs, s.tracker.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
