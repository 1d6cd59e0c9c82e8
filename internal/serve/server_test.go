package serve

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/ingest"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/scoring"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/state"
)

const testDocument = `{
  "session_id": "sess-api",
  "agents": {
    "outcome": {"confidence": 0.9, "data": {"outcome": "success"}},
    "quality": {"data": {"quality": 5}},
    "contrarian": {"data": {"minority_opinion": "tests were skipped"}}
  }
}`

func setupTestServer(t *testing.T) (*Server, *state.Store, *scoring.Tracker) {
	t.Helper()

	tmpDir := t.TempDir()
	store, err := state.Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tracker, err := scoring.NewTracker(scoring.TrackerOptions{
		Path:    filepath.Join(tmpDir, "verdicts.jsonl"),
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	srv := New(Config{
		Processor: ingest.NewProcessor(tracker, store),
		Store:     store,
		Tracker:   tracker,
	})
	return srv, store, tracker
}

func do(t *testing.T, srv *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return rec, resp
}

func TestNew(t *testing.T) {
	srv := New(Config{})
	if srv.Port() != 7878 {
		t.Errorf("Default port = %d, want 7878", srv.Port())
	}
	if srv.Addr() != "127.0.0.1:7878" {
		t.Errorf("Addr() = %q", srv.Addr())
	}
}

func TestHealth(t *testing.T) {
	srv := New(Config{})
	rec, resp := do(t, srv, http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp["status"] != "healthy" || resp["engine_version"] != consensus.Version {
		t.Errorf("health response = %v", resp)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("missing request ID header")
	}
}

func TestRequestIDPropagates(t *testing.T) {
	srv := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	req.Header.Set(requestIDHeader, "abc-123<script>")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "abc-123script" {
		t.Errorf("request ID = %q, want sanitized abc-123script", got)
	}
	var resp APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotFound || resp.ErrorCode != ErrCodeNotFound || resp.RequestID != "abc-123script" {
		t.Errorf("not found response = %d %+v", rec.Code, resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := New(Config{})
	rec, resp := do(t, srv, http.MethodGet, "/api/v1/consensus", "")
	if rec.Code != http.StatusMethodNotAllowed || resp["error_code"] != ErrCodeMethodNotAllowed {
		t.Errorf("GET /consensus = %d %v", rec.Code, resp)
	}
}

func TestConsensus_NoPersist(t *testing.T) {
	srv, store, _ := setupTestServer(t)

	rec, resp := do(t, srv, http.MethodPost, "/api/v1/consensus", testDocument)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp["recorded"] != false {
		t.Errorf("recorded = %v, want false", resp["recorded"])
	}

	verdict := resp["verdict"].(map[string]interface{})
	result := verdict["result"].(map[string]interface{})
	if result["outcome"] != "success" {
		t.Errorf("outcome = %v, want success", result["outcome"])
	}
	if result["minority_opinion"] != "tests were skipped" {
		t.Errorf("minority_opinion = %v", result["minority_opinion"])
	}

	if got, _ := store.GetVerdict("sess-api"); got != nil {
		t.Error("verdict stored without persist=true")
	}
}

func TestConsensus_Persist(t *testing.T) {
	srv, store, tracker := setupTestServer(t)

	rec, resp := do(t, srv, http.MethodPost, "/api/v1/consensus?persist=true", testDocument)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp["recorded"] != true {
		t.Errorf("recorded = %v, want true", resp["recorded"])
	}

	if got, err := store.GetVerdict("sess-api"); err != nil || got == nil {
		t.Errorf("GetVerdict() = %v, %v; want stored verdict", got, err)
	}
	logged, err := tracker.QueryVerdicts(scoring.Query{Session: "sess-api"})
	if err != nil || len(logged) != 1 {
		t.Errorf("ledger has %d verdicts (err %v), want 1", len(logged), err)
	}
}

func TestConsensus_YAML(t *testing.T) {
	srv := New(Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/consensus",
		strings.NewReader("session_id: y\nagents:\n  outcome:\n    data: {outcome: partial}\n"))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"outcome":"partial"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestConsensus_BadRequests(t *testing.T) {
	srv := New(Config{})
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"session_id":`},
		{"missing session", `{"agents":{}}`},
		{"unknown agent", `{"session_id":"s","agents":{"vibes":{}}}`},
		{"wrong type", `{"session_id":"s","agents":{"quality":{"data":{"quality":"great"}}}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := do(t, srv, http.MethodPost, "/api/v1/consensus", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if resp["error_code"] != ErrCodeBadRequest || resp["success"] != false {
				t.Errorf("error envelope = %v", resp)
			}
		})
	}
}

func TestConsensus_TooLarge(t *testing.T) {
	srv := New(Config{})
	body := `{"session_id":"s","pad":"` + strings.Repeat("x", maxDocumentBytes) + `"}`
	rec, resp := do(t, srv, http.MethodPost, "/api/v1/consensus", body)
	if rec.Code != http.StatusRequestEntityTooLarge || resp["error_code"] != ErrCodeTooLarge {
		t.Errorf("oversized body = %d %v", rec.Code, resp)
	}
}

func TestVerdicts_ListAndGet(t *testing.T) {
	srv, store, _ := setupTestServer(t)
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i, session := range []string{"a", "b", "c"} {
		v := consensus.NewVerdict(session, "", &consensus.Result{Outcome: consensus.OutcomeSuccess, Quality: 4}, base.Add(time.Duration(i)*time.Hour))
		if _, err := store.SaveVerdict(v); err != nil {
			t.Fatalf("SaveVerdict() error: %v", err)
		}
	}

	rec, resp := do(t, srv, http.MethodGet, "/api/v1/verdicts?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if resp["count"] != float64(2) {
		t.Errorf("count = %v, want 2", resp["count"])
	}
	first := resp["verdicts"].([]interface{})[0].(map[string]interface{})
	if first["verdict"].(map[string]interface{})["session"] != "c" {
		t.Errorf("first verdict = %v, want newest (c)", first)
	}

	rec, resp = do(t, srv, http.MethodGet, "/api/v1/verdicts/b", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if resp["verdict"].(map[string]interface{})["id"] == "" {
		t.Error("stored verdict missing id")
	}

	rec, resp = do(t, srv, http.MethodGet, "/api/v1/verdicts/zzz", "")
	if rec.Code != http.StatusNotFound || resp["error_code"] != ErrCodeNotFound {
		t.Errorf("missing verdict = %d %v", rec.Code, resp)
	}
}

func TestVerdicts_Delete(t *testing.T) {
	srv, store, _ := setupTestServer(t)
	v := consensus.NewVerdict("gone", "", &consensus.Result{Outcome: consensus.OutcomeError}, time.Now())
	if _, err := store.SaveVerdict(v); err != nil {
		t.Fatalf("SaveVerdict() error: %v", err)
	}

	rec, resp := do(t, srv, http.MethodDelete, "/api/v1/verdicts/gone", "")
	if rec.Code != http.StatusOK || resp["deleted"] != "gone" {
		t.Fatalf("delete = %d %v", rec.Code, resp)
	}
	if got, _ := store.GetVerdict("gone"); got != nil {
		t.Error("verdict still stored after delete")
	}

	rec, resp = do(t, srv, http.MethodDelete, "/api/v1/verdicts/gone", "")
	if rec.Code != http.StatusNotFound || resp["error_code"] != ErrCodeNotFound {
		t.Errorf("second delete = %d %v, want 404", rec.Code, resp)
	}
}

func TestVerdicts_EmptyListIsArray(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	rec, _ := do(t, srv, http.MethodGet, "/api/v1/verdicts", "")
	if !strings.Contains(rec.Body.String(), `"verdicts":[]`) {
		t.Errorf("empty list body = %s", rec.Body.String())
	}
}

func TestVerdicts_BadLimit(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	for _, limit := range []string{"0", "-1", "ten"} {
		rec, _ := do(t, srv, http.MethodGet, "/api/v1/verdicts?limit="+limit, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", limit, rec.Code)
		}
	}
}

func TestStoreDisabled(t *testing.T) {
	srv := New(Config{})
	for _, path := range []string{"/api/v1/verdicts", "/api/v1/verdicts/a", "/api/v1/stats"} {
		rec, resp := do(t, srv, http.MethodGet, path, "")
		if rec.Code != http.StatusServiceUnavailable || resp["error_code"] != ErrCodeServiceUnavail {
			t.Errorf("%s = %d %v, want 503", path, rec.Code, resp)
		}
	}
}

func TestStats(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	for i := 0; i < 3; i++ {
		body := strings.Replace(testDocument, "sess-api", "sess-"+string(rune('a'+i)), 1)
		if rec, _ := do(t, srv, http.MethodPost, "/api/v1/consensus?persist=1", body); rec.Code != http.StatusOK {
			t.Fatalf("persist status = %d", rec.Code)
		}
	}

	rec, resp := do(t, srv, http.MethodGet, "/api/v1/stats?window=7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d: %s", rec.Code, rec.Body.String())
	}
	store := resp["store"].(map[string]interface{})
	if store["total"] != float64(3) {
		t.Errorf("store total = %v, want 3", store["total"])
	}
	if store["outcomes"].(map[string]interface{})["success"] != float64(3) {
		t.Errorf("outcomes = %v", store["outcomes"])
	}
	trend := resp["trend"].(map[string]interface{})
	if trend["sample_count"] != float64(3) || trend["trend"] != string(scoring.TrendStable) {
		t.Errorf("trend = %v", trend)
	}
	if avg, ok := resp["rolling_avg_dq"].(float64); !ok || avg <= 0 || avg > 1 {
		t.Errorf("rolling_avg_dq = %v", resp["rolling_avg_dq"])
	}
	if resp["window_days"] != float64(7) {
		t.Errorf("window_days = %v", resp["window_days"])
	}

	rec, _ = do(t, srv, http.MethodGet, "/api/v1/stats?window=x", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad window status = %d, want 400", rec.Code)
	}
}

func TestSanitizeRequestID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc-DEF_1.2:3", "abc-DEF_1.2:3"},
		{"bad id!", "badid"},
		{strings.Repeat("a", 80), strings.Repeat("a", 64)},
	}
	for _, tc := range tests {
		if got := sanitizeRequestID(tc.in); got != tc.want {
			t.Errorf("sanitizeRequestID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
