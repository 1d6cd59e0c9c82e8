// Package scoring keeps the JSONL ledger of consensus verdicts and the
// historical analysis run over it (trends, per-outcome and per-model summaries).
package scoring

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
)

const (
	// DefaultLedgerPath is the default location of the verdict ledger.
	DefaultLedgerPath = "~/.config/ace/verdicts.jsonl"

	// DefaultRetentionDays is how long to keep verdict records.
	DefaultRetentionDays = 90

	// TrendWindowDays is the default window for trend calculations.
	TrendWindowDays = 14

	// MinSamplesForTrend is the minimum samples needed to calculate a trend.
	MinSamplesForTrend = 3
)

// Trend represents the direction of DQ score changes over time.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
	TrendUnknown   Trend = "unknown"
)

// TrendAnalysis provides statistical trend information.
type TrendAnalysis struct {
	// Trend is the overall direction
	Trend Trend `json:"trend"`

	// SampleCount is the number of verdicts analyzed
	SampleCount int `json:"sample_count"`

	// AvgScore is the mean DQ score in the window
	AvgScore float64 `json:"avg_score"`

	// RecentAvg is the average of the most recent half
	RecentAvg float64 `json:"recent_avg"`

	// EarlierAvg is the average of the earlier half
	EarlierAvg float64 `json:"earlier_avg"`

	// ChangePercent is the percentage change from earlier to recent
	ChangePercent float64 `json:"change_percent"`

	// StdDev is the standard deviation of DQ scores
	StdDev float64 `json:"std_dev,omitempty"`
}

// Tracker manages the verdict ledger.
type Tracker struct {
	path          string
	retentionDays int
	enabled       bool
	mu            sync.Mutex
}

// TrackerOptions configures the tracker.
type TrackerOptions struct {
	Path          string
	RetentionDays int
	Enabled       bool
}

// NewTracker creates a tracker, creating the ledger directory if needed.
func NewTracker(opts TrackerOptions) (*Tracker, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}
	if opts.RetentionDays == 0 {
		opts.RetentionDays = DefaultRetentionDays
	}

	t := &Tracker{
		path:          opts.Path,
		retentionDays: opts.RetentionDays,
		enabled:       opts.Enabled,
	}

	if !t.enabled {
		return t, nil
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	return t, nil
}

// Path returns the ledger file path.
func (t *Tracker) Path() string {
	return t.path
}

// Enabled reports whether the tracker persists anything.
func (t *Tracker) Enabled() bool {
	return t.enabled
}

// Record appends a verdict to the ledger. A zero timestamp or empty engine
// version is filled in on the ledger entry; v itself is not modified.
func (t *Tracker) Record(v *consensus.Verdict) error {
	if !t.enabled {
		return nil
	}

	now := time.Now().UTC()
	entry := *v
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	if entry.EngineVersion == "" {
		entry.EngineVersion = consensus.Version
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshaling verdict: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.pruneLocked(now); err != nil {
		return err
	}

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("writing verdict: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing ledger: %w", err)
	}

	return nil
}

// RecordBatch records several verdicts, stopping at the first failure.
func (t *Tracker) RecordBatch(verdicts []*consensus.Verdict) error {
	for _, v := range verdicts {
		if err := t.Record(v); err != nil {
			return fmt.Errorf("recording verdict for %s: %w", v.Session, err)
		}
	}
	return nil
}

// Close waits for any in-flight write.
func (t *Tracker) Close() error {
	t.mu.Lock()
	t.mu.Unlock()
	return nil
}

// Prune removes verdicts older than the retention window.
func (t *Tracker) Prune() error {
	return t.pruneAt(time.Now().UTC())
}

func (t *Tracker) pruneAt(now time.Time) error {
	if !t.enabled {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked(now)
}

func (t *Tracker) pruneLocked(now time.Time) error {
	if t.retentionDays <= 0 || t.path == "" {
		return nil
	}

	cutoff := now.AddDate(0, 0, -t.retentionDays)

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	var kept [][]byte
	pruned := false
	scanner := newScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var v consensus.Verdict
		if err := json.Unmarshal(line, &v); err != nil {
			kept = append(kept, append([]byte(nil), line...))
			continue
		}
		if v.Timestamp.IsZero() || !v.Timestamp.Before(cutoff) {
			kept = append(kept, append([]byte(nil), line...))
		} else {
			pruned = true
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning ledger: %w", err)
	}

	if !pruned {
		return nil
	}

	dir := filepath.Dir(t.path)
	tmpFile, err := os.CreateTemp(dir, "verdicts-prune-*.jsonl")
	if err != nil {
		return fmt.Errorf("creating prune temp file: %w", err)
	}
	for _, line := range kept {
		if _, err := tmpFile.Write(append(line, '\n')); err != nil {
			tmpFile.Close()
			os.Remove(tmpFile.Name())
			return fmt.Errorf("writing prune temp file: %w", err)
		}
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return fmt.Errorf("closing prune temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), t.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}

	return nil
}

// newScanner returns a line scanner sized for verdicts carrying long
// minority opinions.
func newScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}

// Query filters ledger reads.
type Query struct {
	// Since filters to verdicts after this time
	Since time.Time

	// Session filters by session ID (empty = all)
	Session string

	// Outcome filters by consensus outcome (empty = all)
	Outcome string

	// Project filters by project (empty = all)
	Project string

	// Limit caps the number of results (0 = unlimited)
	Limit int
}

// Matches reports whether v passes every filter in q except Limit.
func (q Query) Matches(v *consensus.Verdict) bool {
	if !q.Since.IsZero() && !v.Timestamp.After(q.Since) {
		return false
	}
	if q.Session != "" && v.Session != q.Session {
		return false
	}
	if q.Outcome != "" && v.Result.Outcome != q.Outcome {
		return false
	}
	if q.Project != "" && v.Project != q.Project {
		return false
	}
	return true
}

// QueryVerdicts returns verdicts matching the query in ledger order.
func (t *Tracker) QueryVerdicts(q Query) ([]*consensus.Verdict, error) {
	if !t.enabled {
		return nil, nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	var verdicts []*consensus.Verdict
	scanner := newScanner(f)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var v consensus.Verdict
		if err := json.Unmarshal(line, &v); err != nil {
			continue // Skip malformed
		}
		if !q.Matches(&v) {
			continue
		}

		verdicts = append(verdicts, &v)

		if q.Limit > 0 && len(verdicts) >= q.Limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning ledger: %w", err)
	}

	return verdicts, nil
}

// Latest returns the most recent verdict recorded for session, or nil.
func (t *Tracker) Latest(session string) (*consensus.Verdict, error) {
	verdicts, err := t.QueryVerdicts(Query{Session: session})
	if err != nil {
		return nil, err
	}
	var latest *consensus.Verdict
	for _, v := range verdicts {
		if latest == nil || !v.Timestamp.Before(latest.Timestamp) {
			latest = v
		}
	}
	return latest, nil
}

// RollingAverage computes the mean DQ score over the window.
func (t *Tracker) RollingAverage(q Query, windowDays int) (float64, error) {
	if windowDays <= 0 {
		windowDays = TrendWindowDays
	}

	q.Since = time.Now().AddDate(0, 0, -windowDays)
	verdicts, err := t.QueryVerdicts(q)
	if err != nil {
		return 0, err
	}

	if len(verdicts) == 0 {
		return 0, nil
	}

	var sum float64
	for _, v := range verdicts {
		sum += v.Result.DQScore
	}

	return sum / float64(len(verdicts)), nil
}

// AnalyzeTrend determines if DQ scores are improving, declining, or stable.
func (t *Tracker) AnalyzeTrend(q Query, windowDays int) (*TrendAnalysis, error) {
	if windowDays <= 0 {
		windowDays = TrendWindowDays
	}

	q.Since = time.Now().AddDate(0, 0, -windowDays)
	verdicts, err := t.QueryVerdicts(q)
	if err != nil {
		return nil, err
	}

	return analyzeTrend(verdicts), nil
}

func analyzeTrend(verdicts []*consensus.Verdict) *TrendAnalysis {
	analysis := &TrendAnalysis{
		Trend:       TrendUnknown,
		SampleCount: len(verdicts),
	}

	if len(verdicts) < MinSamplesForTrend {
		return analysis
	}

	sorted := append([]*consensus.Verdict(nil), verdicts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var sum float64
	for _, v := range sorted {
		sum += v.Result.DQScore
	}
	analysis.AvgScore = sum / float64(len(sorted))

	// Split into earlier and recent halves
	mid := len(sorted) / 2
	earlier := sorted[:mid]
	recent := sorted[mid:]

	var earlierSum, recentSum float64
	for _, v := range earlier {
		earlierSum += v.Result.DQScore
	}
	for _, v := range recent {
		recentSum += v.Result.DQScore
	}

	analysis.EarlierAvg = earlierSum / float64(len(earlier))
	analysis.RecentAvg = recentSum / float64(len(recent))

	if analysis.EarlierAvg > 0 {
		analysis.ChangePercent = ((analysis.RecentAvg - analysis.EarlierAvg) / analysis.EarlierAvg) * 100
	}

	var sqDiffSum float64
	for _, v := range sorted {
		diff := v.Result.DQScore - analysis.AvgScore
		sqDiffSum += diff * diff
	}
	analysis.StdDev = math.Sqrt(sqDiffSum / float64(len(sorted)))

	// A change is significant if it exceeds one standard deviation,
	// with a 5% floor.
	threshold := 5.0
	if analysis.AvgScore > 0 {
		threshold = math.Max(5, analysis.StdDev*100/analysis.AvgScore)
	}

	switch {
	case analysis.ChangePercent > threshold:
		analysis.Trend = TrendImproving
	case analysis.ChangePercent < -threshold:
		analysis.Trend = TrendDeclining
	default:
		analysis.Trend = TrendStable
	}

	return analysis
}

// OutcomeSummary aggregates verdicts sharing a consensus outcome.
type OutcomeSummary struct {
	Outcome       string  `json:"outcome"`
	Count         int     `json:"count"`
	Share         float64 `json:"share"`
	AvgQuality    float64 `json:"avg_quality"`
	AvgDQScore    float64 `json:"avg_dq_score"`
	AvgConfidence float64 `json:"avg_confidence"`
	Dissented     int     `json:"dissented"`
}

// SummarizeByOutcome groups verdicts since the given time by outcome,
// sorted by count descending then outcome name.
func (t *Tracker) SummarizeByOutcome(since time.Time) ([]*OutcomeSummary, error) {
	verdicts, err := t.QueryVerdicts(Query{Since: since})
	if err != nil {
		return nil, err
	}

	byOutcome := make(map[string]*OutcomeSummary)
	for _, v := range verdicts {
		s, ok := byOutcome[v.Result.Outcome]
		if !ok {
			s = &OutcomeSummary{Outcome: v.Result.Outcome}
			byOutcome[v.Result.Outcome] = s
		}
		s.Count++
		s.AvgQuality += float64(v.Result.Quality)
		s.AvgDQScore += v.Result.DQScore
		s.AvgConfidence += v.Result.Confidence
		if v.Result.MinorityOpinion != nil {
			s.Dissented++
		}
	}

	summaries := make([]*OutcomeSummary, 0, len(byOutcome))
	for _, s := range byOutcome {
		n := float64(s.Count)
		s.AvgQuality /= n
		s.AvgDQScore /= n
		s.AvgConfidence /= n
		s.Share = n / float64(len(verdicts))
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Count != summaries[j].Count {
			return summaries[i].Count > summaries[j].Count
		}
		return summaries[i].Outcome < summaries[j].Outcome
	})

	return summaries, nil
}

// ModelSummary aggregates the optimal-model recommendations.
type ModelSummary struct {
	Model         string  `json:"model"`
	Count         int     `json:"count"`
	AvgEfficiency float64 `json:"avg_efficiency"`
	AvgComplexity float64 `json:"avg_complexity"`
	SuccessRate   float64 `json:"success_rate"`
}

// SummarizeByModel groups verdicts since the given time by recommended
// model, sorted by count descending then model name.
func (t *Tracker) SummarizeByModel(since time.Time) ([]*ModelSummary, error) {
	verdicts, err := t.QueryVerdicts(Query{Since: since})
	if err != nil {
		return nil, err
	}

	byModel := make(map[string]*ModelSummary)
	successes := make(map[string]int)
	for _, v := range verdicts {
		model := v.Result.OptimalModel
		s, ok := byModel[model]
		if !ok {
			s = &ModelSummary{Model: model}
			byModel[model] = s
		}
		s.Count++
		s.AvgEfficiency += v.Result.ModelEfficiency
		s.AvgComplexity += v.Result.Complexity
		if v.Result.Outcome == consensus.OutcomeSuccess {
			successes[model]++
		}
	}

	summaries := make([]*ModelSummary, 0, len(byModel))
	for model, s := range byModel {
		n := float64(s.Count)
		s.AvgEfficiency /= n
		s.AvgComplexity /= n
		s.SuccessRate = float64(successes[model]) / n
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Count != summaries[j].Count {
			return summaries[i].Count > summaries[j].Count
		}
		return summaries[i].Model < summaries[j].Model
	})

	return summaries, nil
}

// Export writes matching verdicts to a JSON file for external analysis.
func (t *Tracker) Export(outputPath string, since time.Time) error {
	verdicts, err := t.QueryVerdicts(Query{Since: since})
	if err != nil {
		return err
	}
	if verdicts == nil {
		verdicts = []*consensus.Verdict{}
	}

	data, err := json.MarshalIndent(verdicts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling export: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}

	return nil
}
