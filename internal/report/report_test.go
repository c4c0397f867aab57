package report

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mbertin/ardoise/internal/model"
	"github.com/mbertin/ardoise/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry() model.HistoryEntry {
	return model.HistoryEntry{
		Student:        "Léa",
		Level:          "CP",
		TopicSlug:      "dictee-s01",
		Score:          2,
		Total:          3,
		ErrorCount:     1,
		ElapsedSeconds: 47,
	}
}

func TestReportSavesHistoryAndPosts(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestStore(t)
	rep := New(s, 50, srv.URL)

	if err := rep.Report("tok1", testEntry(), nil); err != nil {
		t.Fatalf("Report: %v", err)
	}
	rep.Wait()

	st, ok := rep.Status("tok1")
	if !ok || st != model.ReportSent {
		t.Errorf("expected sent status, got %q ok=%v", st, ok)
	}
	if got.Name != "Léa" || got.Topic != "dictee-s01" || got.Score != 2 || got.Total != 3 {
		t.Errorf("unexpected payload %+v", got)
	}

	entries, err := s.ListHistory()
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
}

// Session finish must not depend on network success: the history write
// survives a dead endpoint and the status reports the failure.
func TestReportSurvivesNetworkFailure(t *testing.T) {
	s := newTestStore(t)
	rep := New(s, 50, "http://127.0.0.1:1/scores")

	if err := rep.Report("tok1", testEntry(), nil); err != nil {
		t.Fatalf("Report should not fail on network error: %v", err)
	}
	rep.Wait()

	st, _ := rep.Status("tok1")
	if st != model.ReportFailed {
		t.Errorf("expected failed status, got %q", st)
	}

	count, _ := s.HistoryCount()
	if count != 1 {
		t.Errorf("history must be written despite POST failure, got %d entries", count)
	}
}

func TestReportNonOKResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	s := newTestStore(t)
	rep := New(s, 50, srv.URL)
	rep.Report("tok1", testEntry(), nil)
	rep.Wait()

	st, _ := rep.Status("tok1")
	if st != model.ReportFailed {
		t.Errorf("expected failed status for non-OK response, got %q", st)
	}
}

func TestReportSkippedWithoutEndpoint(t *testing.T) {
	s := newTestStore(t)
	rep := New(s, 50, "")

	if err := rep.Report("tok1", testEntry(), nil); err != nil {
		t.Fatalf("Report: %v", err)
	}
	st, ok := rep.Status("tok1")
	if !ok || st != model.ReportSkipped {
		t.Errorf("expected skipped status, got %q ok=%v", st, ok)
	}

	count, _ := s.HistoryCount()
	if count != 1 {
		t.Errorf("history still written when remote is disabled, got %d", count)
	}
}

func TestPruneDropsOnlyStaleStatuses(t *testing.T) {
	s := newTestStore(t)
	rep := New(s, 50, "")

	clock := time.Now()
	rep.now = func() time.Time { return clock }

	rep.Report("tok-old", testEntry(), nil)
	clock = clock.Add(2 * time.Hour)
	rep.Report("tok-new", testEntry(), nil)

	if removed := rep.Prune(time.Hour); removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}
	if _, ok := rep.Status("tok-old"); ok {
		t.Error("stale status survived the prune")
	}
	if st, ok := rep.Status("tok-new"); !ok || st != model.ReportSkipped {
		t.Errorf("fresh status lost: %v %v", st, ok)
	}
}
