// Package report finalizes sessions: the summary always lands in local
// history, and is then POSTed to the remote score sink if one is
// configured. The POST is at-most-once and best-effort; its outcome is
// visible as a status but never blocks or rolls anything back.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mbertin/ardoise/internal/model"
	"github.com/mbertin/ardoise/internal/store"
)

const postTimeout = 5 * time.Second

// Payload is the JSON body sent to the remote endpoint.
type Payload struct {
	Name           string          `json:"name"`
	Level          string          `json:"level"`
	Topic          string          `json:"topic"`
	Score          int             `json:"score"`
	Total          int             `json:"total"`
	ErrorCount     int             `json:"error_count"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	Details        []model.Attempt `json:"details,omitempty"`
}

// statusEntry remembers when a status was last written so stale entries can
// be pruned once clients stop polling for them.
type statusEntry struct {
	status model.ReportStatus
	at     time.Time
}

// Reporter persists finished sessions and pushes summaries upstream.
type Reporter struct {
	store      *store.Store
	historyCap int
	url        string
	client     *http.Client
	now        func() time.Time

	mu     sync.Mutex
	status map[string]statusEntry
	wg     sync.WaitGroup
}

// New creates a reporter. url may be empty to disable the remote POST.
func New(s *store.Store, historyCap int, url string) *Reporter {
	return &Reporter{
		store:      s,
		historyCap: historyCap,
		url:        url,
		client:     &http.Client{Timeout: postTimeout},
		now:        time.Now,
		status:     make(map[string]statusEntry),
	}
}

// Report saves the entry to local history and kicks off the remote POST.
// The local write is the only operation that can fail; a broken network
// never stops the pupil from seeing their result.
func (r *Reporter) Report(token string, entry model.HistoryEntry, details []model.Attempt) error {
	if _, err := r.store.AppendHistory(entry, r.historyCap); err != nil {
		return err
	}

	if r.url == "" {
		r.setStatus(token, model.ReportSkipped)
		return nil
	}

	r.setStatus(token, model.ReportPending)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.post(token, entry, details)
	}()
	return nil
}

func (r *Reporter) post(token string, entry model.HistoryEntry, details []model.Attempt) {
	body, err := json.Marshal(Payload{
		Name:           entry.Student,
		Level:          entry.Level,
		Topic:          entry.TopicSlug,
		Score:          entry.Score,
		Total:          entry.Total,
		ErrorCount:     entry.ErrorCount,
		ElapsedSeconds: entry.ElapsedSeconds,
		Details:        details,
	})
	if err != nil {
		r.setStatus(token, model.ReportFailed)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		r.setStatus(token, model.ReportFailed)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		slog.Warn("score submission failed", "topic", entry.TopicSlug, "error", err)
		r.setStatus(token, model.ReportFailed)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("score submission rejected", "topic", entry.TopicSlug, "status", resp.StatusCode)
		r.setStatus(token, model.ReportFailed)
		return
	}
	r.setStatus(token, model.ReportSent)
}

func (r *Reporter) setStatus(token string, st model.ReportStatus) {
	r.mu.Lock()
	r.status[token] = statusEntry{status: st, at: r.now()}
	r.mu.Unlock()
}

// Status returns the submission state for a session token.
func (r *Reporter) Status(token string) (model.ReportStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.status[token]
	return e.status, ok
}

// Prune drops status entries older than maxAge and returns how many. The
// maintenance sweep calls this so the map does not grow for the life of the
// process; clients poll the status right after finishing, not hours later.
func (r *Reporter) Prune(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for token, e := range r.status {
		if e.at.Before(cutoff) {
			delete(r.status, token)
			removed++
		}
	}
	return removed
}

// Wait blocks until in-flight submissions settle. Used by tests and by
// graceful shutdown.
func (r *Reporter) Wait() {
	r.wg.Wait()
}
