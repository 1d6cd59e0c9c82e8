package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/analysis"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/scoring"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/state"
)

const sessionDoc = `{
  "session_id": "sess-7",
  "project": "vengine",
  "agents": {
    "outcome": {"dq_score": {"validity": 1, "specificity": 1, "correctness": 1}, "confidence": 0.9, "data": {"outcome": "success"}},
    "quality": {"data": {"quality": 4}},
    "model_efficiency": {"data": {"efficiency": 0.8, "optimal_model": "sonnet"}}
  }
}`

type fakeLedger struct {
	recorded []*consensus.Verdict
	err      error
}

func (f *fakeLedger) Record(v *consensus.Verdict) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, v)
	return nil
}

type fakeStore struct {
	saved []*consensus.Verdict
	err   error
}

func (f *fakeStore) SaveVerdict(v *consensus.Verdict) (*state.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.saved = append(f.saved, v)
	return &state.Record{ID: "id", Verdict: v}, nil
}

func decodeDoc(t *testing.T, body string) *analysis.Document {
	t.Helper()
	doc, err := analysis.Decode([]byte(body), analysis.FormatJSON)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	return doc
}

func TestProcessor_Process(t *testing.T) {
	ledger := &fakeLedger{}
	store := &fakeStore{}
	p := NewProcessor(ledger, store)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	v, err := p.Process(context.Background(), decodeDoc(t, sessionDoc))
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if v.Session != "sess-7" || v.Project != "vengine" {
		t.Errorf("verdict identity = %s/%s", v.Session, v.Project)
	}
	if !v.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", v.Timestamp, fixed)
	}
	if v.Result.Outcome != consensus.OutcomeSuccess {
		t.Errorf("Outcome = %s, want success", v.Result.Outcome)
	}
	if v.Result.OptimalModel != "sonnet" {
		t.Errorf("OptimalModel = %s, want sonnet", v.Result.OptimalModel)
	}
	if len(ledger.recorded) != 1 || len(store.saved) != 1 {
		t.Errorf("sinks recorded %d/%d verdicts, want 1/1", len(ledger.recorded), len(store.saved))
	}
}

func TestProcessor_UsesAnalyzedAt(t *testing.T) {
	doc := decodeDoc(t, sessionDoc)
	doc.AnalyzedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	v, err := NewProcessor(nil, nil).Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if !v.Timestamp.Equal(doc.AnalyzedAt) {
		t.Errorf("Timestamp = %v, want analyzed_at %v", v.Timestamp, doc.AnalyzedAt)
	}
}

func TestProcessor_SinkFailureKeepsVerdict(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("disk full")}
	store := &fakeStore{}
	p := NewProcessor(ledger, store)

	v, err := p.Process(context.Background(), decodeDoc(t, sessionDoc))
	if !errors.Is(err, ErrSink) {
		t.Fatalf("Process() error = %v, want ErrSink", err)
	}
	if v == nil || v.Result.Outcome != consensus.OutcomeSuccess {
		t.Errorf("verdict should survive a sink failure, got %+v", v)
	}
	if len(store.saved) != 1 {
		t.Error("store should still be attempted after a ledger failure")
	}
}

func TestProcessor_BothSinksFail(t *testing.T) {
	ledgerErr := errors.New("ledger down")
	storeErr := errors.New("store down")
	p := NewProcessor(&fakeLedger{err: ledgerErr}, &fakeStore{err: storeErr})

	_, err := p.Process(context.Background(), decodeDoc(t, sessionDoc))
	if !errors.Is(err, ledgerErr) || !errors.Is(err, storeErr) {
		t.Errorf("Process() error = %v, want both sink errors", err)
	}
}

func TestProcessor_InvalidInput(t *testing.T) {
	ledger := &fakeLedger{}
	p := NewProcessor(ledger, nil)

	doc := decodeDoc(t, `{"session_id":"s","agents":{"quality":{"data":{"quality":"high"}}}}`)
	v, err := p.Process(context.Background(), doc)
	if !errors.Is(err, consensus.ErrInvalidInput) {
		t.Fatalf("Process() error = %v, want ErrInvalidInput", err)
	}
	if v != nil {
		t.Errorf("Process() verdict = %+v, want nil", v)
	}
	if len(ledger.recorded) != 0 {
		t.Error("invalid input must not reach the ledger")
	}
}

func TestProcessor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ledger := &fakeLedger{}
	if _, err := NewProcessor(ledger, nil).Process(ctx, decodeDoc(t, sessionDoc)); !errors.Is(err, context.Canceled) {
		t.Errorf("Process() error = %v, want context.Canceled", err)
	}
	if len(ledger.recorded) != 0 {
		t.Error("cancelled process must not record")
	}
}

func TestProcessor_ProcessFileWithRealSinks(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "sess-7.json")
	if err := os.WriteFile(docPath, []byte(sessionDoc), 0644); err != nil {
		t.Fatal(err)
	}

	tracker, err := scoring.NewTracker(scoring.TrackerOptions{
		Path:    filepath.Join(dir, "verdicts.jsonl"),
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("NewTracker() error: %v", err)
	}
	store, err := state.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("state.Open() error: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	p := NewProcessor(tracker, store)
	if _, err := p.ProcessFile(context.Background(), docPath); err != nil {
		t.Fatalf("ProcessFile() error: %v", err)
	}

	logged, err := tracker.QueryVerdicts(scoring.Query{Session: "sess-7"})
	if err != nil || len(logged) != 1 {
		t.Fatalf("ledger has %d verdicts (err %v), want 1", len(logged), err)
	}
	rec, err := store.GetVerdict("sess-7")
	if err != nil || rec == nil {
		t.Fatalf("GetVerdict() = %v, %v", rec, err)
	}
	if rec.Verdict.Result.Quality != logged[0].Result.Quality {
		t.Errorf("store quality %d != ledger quality %d", rec.Verdict.Result.Quality, logged[0].Result.Quality)
	}

	if _, err := p.ProcessFile(context.Background(), filepath.Join(dir, "missing.json")); err == nil {
		t.Error("ProcessFile(missing) expected error")
	}
}
