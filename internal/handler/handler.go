// Package handler exposes the JSON API consumed by the classroom frontend.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mbertin/ardoise/internal/engine"
	appI18n "github.com/mbertin/ardoise/internal/i18n"
	"github.com/mbertin/ardoise/internal/model"
	"github.com/mbertin/ardoise/internal/report"
	"github.com/mbertin/ardoise/internal/session"
	"github.com/mbertin/ardoise/internal/speech"
	"github.com/mbertin/ardoise/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	sessions  *session.Registry
	reporter  *report.Reporter
	announcer speech.Announcer
	config    model.AppConfig
}

// New creates a new Handler.
func New(s *store.Store, reg *session.Registry, rep *report.Reporter, ann speech.Announcer, cfg model.AppConfig) *Handler {
	return &Handler{store: s, sessions: reg, reporter: rep, announcer: ann, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/topics", h.handleListTopics)
		r.Get("/topics/{slug}", h.handleGetTopic)
		r.Get("/levels", h.handleListLevels)

		r.Post("/sessions", h.handleCreateSession)
		r.Route("/sessions/{token}", func(r chi.Router) {
			r.Get("/", h.handleSessionState)
			r.Post("/attempts", h.handleAttempt)
			r.Post("/retry", h.handleRetry)
			r.Post("/finish", h.handleFinish)
			r.Get("/report", h.handleReportStatus)
			r.Post("/announce", h.handleAnnounce)
		})

		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/me", h.handleMe)
			r.Get("/history", h.handleHistory)
			r.Delete("/history", h.handleClearHistory)
			r.Get("/export", h.handleExport)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/toggle", h.handleToggleUserActive)
				r.Put("/school", h.handleSetSchool)
			})
		})
	})

	r.Get("/audio/{file}", h.handleAudio)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// respondError sends a localized error message under the "error" key.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	respondJSON(w, status, map[string]string{"error": appI18n.T(r.Context(), msgID)})
}

// topicView is a Topic plus its item count, with no item content attached.
type topicView struct {
	model.Topic
	ItemCount int `json:"item_count"`
}

func (h *Handler) topicView(t model.Topic) (topicView, error) {
	items, err := h.store.ListItems(t.ID)
	if err != nil {
		return topicView{}, err
	}
	return topicView{Topic: t, ItemCount: len(items)}, nil
}

func (h *Handler) handleListTopics(w http.ResponseWriter, r *http.Request) {
	level := r.URL.Query().Get("level")
	lang := r.URL.Query().Get("lang")

	topics, err := h.store.ListTopicsFiltered(level, lang)
	if err != nil {
		slog.Error("list topics", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	views := make([]topicView, 0, len(topics))
	for _, t := range topics {
		v, err := h.topicView(t)
		if err != nil {
			slog.Error("count items", "topic", t.Slug, "error", err)
			h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
			return
		}
		views = append(views, v)
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTopic(chi.URLParam(r, "slug"))
	if errors.Is(err, model.ErrTopicNotFound) {
		h.respondError(w, r, http.StatusNotFound, "TopicNotFound")
		return
	}
	if err != nil {
		slog.Error("get topic", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	v, err := h.topicView(t)
	if err != nil {
		slog.Error("count items", "topic", t.Slug, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (h *Handler) handleListLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.store.ListDistinctLevels()
	if err != nil {
		slog.Error("list levels", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"levels": levels})
}

// itemView is what the client sees of the current item. The answer key never
// leaves the server; dictation prompts come through the audio endpoint.
type itemView struct {
	Index    int      `json:"index"`
	Prompt   string   `json:"prompt,omitempty"`
	Pool     []string `json:"pool,omitempty"`
	Progress []string `json:"progress,omitempty"`
	HasAudio bool     `json:"has_audio"`
}

// sessionView is the full client-facing session state. Callers hold live.Mu.
type sessionView struct {
	Token          string              `json:"token"`
	Topic          string              `json:"topic"`
	Collector      model.CollectorKind `json:"collector"`
	Status         model.SessionStatus `json:"status"`
	Score          int                 `json:"score"`
	Total          int                 `json:"total"`
	ErrorCount     int                 `json:"error_count"`
	LivesExhausted bool                `json:"lives_exhausted"`
	Item           *itemView           `json:"item,omitempty"`
}

func (h *Handler) sessionView(live *session.Live) sessionView {
	eng := live.Engine
	v := sessionView{
		Token:          live.Token,
		Topic:          live.Topic.Slug,
		Collector:      live.Topic.Collector,
		Status:         eng.Status(),
		Score:          eng.Score(),
		Total:          eng.Total(),
		ErrorCount:     eng.ErrorCount(),
		LivesExhausted: eng.LivesExhausted(),
	}
	if item, ok := eng.CurrentItem(); ok {
		c := eng.Collector()
		v.Item = &itemView{
			Index:    eng.CurrentIndex(),
			Prompt:   item.Prompt,
			Pool:     c.Pool(),
			Progress: c.Progress(),
			HasAudio: h.announcer != nil && (item.AudioRef != "" || live.Topic.Collector == model.CollectorFreeText),
		}
	}
	return v
}

type createSessionRequest struct {
	Topic   string `json:"topic"`
	Student string `json:"student"`
	Level   string `json:"level"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topic == "" {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	topic, err := h.store.GetTopic(req.Topic)
	if errors.Is(err, model.ErrTopicNotFound) {
		h.respondError(w, r, http.StatusNotFound, "TopicNotFound")
		return
	}
	if err != nil {
		slog.Error("get topic", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	items, err := h.store.ListItems(topic.ID)
	if err != nil {
		slog.Error("list items", "topic", topic.Slug, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	collector, err := engine.NewCollector(topic.Collector)
	if err != nil {
		slog.Error("bad collector kind", "topic", topic.Slug, "kind", topic.Collector)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	eng, err := engine.New(items, collector, engine.Config{
		Policy:    topic.Policy,
		BlockSize: topic.BlockSize,
		MaxErrors: topic.MaxErrors,
	})
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	eng.Start()

	level := req.Level
	if level == "" {
		level = topic.Level
	}
	live := &session.Live{
		Topic:   topic,
		Student: req.Student,
		Level:   level,
		Engine:  eng,
	}
	token, err := h.sessions.Add(live)
	if err != nil {
		slog.Error("register session", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	slog.Info("session started", "token", token, "topic", topic.Slug, "student", req.Student)
	respondJSON(w, http.StatusCreated, h.sessionView(live))
}

// liveSession resolves the token URL param, answering 404 on a miss.
func (h *Handler) liveSession(w http.ResponseWriter, r *http.Request) (*session.Live, bool) {
	live, err := h.sessions.Get(chi.URLParam(r, "token"))
	if err != nil {
		h.respondError(w, r, http.StatusNotFound, "SessionNotFound")
		return nil, false
	}
	return live, true
}

func (h *Handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	live, ok := h.liveSession(w, r)
	if !ok {
		return
	}
	live.Mu.Lock()
	view := h.sessionView(live)
	live.Mu.Unlock()
	respondJSON(w, http.StatusOK, view)
}

type attemptRequest struct {
	Value string `json:"value"`
}

type attemptResponse struct {
	Result engine.Result `json:"result"`
	State  sessionView   `json:"state"`
}

func (h *Handler) handleAttempt(w http.ResponseWriter, r *http.Request) {
	live, ok := h.liveSession(w, r)
	if !ok {
		return
	}

	var req attemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	live.Mu.Lock()
	result, err := live.Engine.Submit(req.Value)
	resp := attemptResponse{Result: result, State: h.sessionView(live)}
	live.Mu.Unlock()

	if errors.Is(err, engine.ErrNotInProgress) {
		h.respondError(w, r, http.StatusConflict, "SessionFinished")
		return
	}
	if err != nil {
		slog.Error("submit attempt", "token", live.Token, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	live, ok := h.liveSession(w, r)
	if !ok {
		return
	}

	live.Mu.Lock()
	err := live.Engine.RetryBlock()
	view := h.sessionView(live)
	live.Mu.Unlock()

	if errors.Is(err, engine.ErrRetryUnavailable) {
		h.respondError(w, r, http.StatusConflict, "RetryUnavailable")
		return
	}
	if err != nil {
		slog.Error("retry block", "token", live.Token, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type finishResponse struct {
	Summary engine.Summary     `json:"summary"`
	Report  model.ReportStatus `json:"report"`
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	live, ok := h.liveSession(w, r)
	if !ok {
		return
	}

	live.Mu.Lock()
	summary, err := live.Engine.Finish()
	live.Mu.Unlock()

	if errors.Is(err, engine.ErrNotFinished) {
		h.respondError(w, r, http.StatusConflict, "SessionNotFinished")
		return
	}
	if err != nil {
		slog.Error("finish session", "token", live.Token, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	// Removing first elects a single finalizer; a concurrent finish for the
	// same token loses here and must not report the result a second time.
	if !h.sessions.Remove(live.Token) {
		h.respondError(w, r, http.StatusNotFound, "SessionNotFound")
		return
	}

	entry := model.HistoryEntry{
		Student:        live.Student,
		Level:          live.Level,
		TopicSlug:      live.Topic.Slug,
		TopicTitle:     topicTitle(live.Topic),
		Collector:      live.Topic.Collector,
		Score:          summary.Score,
		Total:          summary.Total,
		ErrorCount:     summary.ErrorCount,
		ElapsedSeconds: summary.ElapsedSeconds,
	}
	if err := h.reporter.Report(live.Token, entry, summary.Attempts); err != nil {
		slog.Error("save result", "token", live.Token, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	status, _ := h.reporter.Status(live.Token)
	slog.Info("session finished", "token", live.Token, "topic", live.Topic.Slug,
		"score", summary.Score, "total", summary.Total)
	respondJSON(w, http.StatusOK, finishResponse{Summary: summary, Report: status})
}

func (h *Handler) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	status, ok := h.reporter.Status(token)
	if !ok {
		h.respondError(w, r, http.StatusNotFound, "SessionNotFound")
		return
	}
	respondJSON(w, http.StatusOK, map[string]model.ReportStatus{"report": status})
}

func topicTitle(t model.Topic) string {
	if t.Lang == "fr" && t.TitleFR != "" {
		return t.TitleFR
	}
	if t.TitleEN != "" {
		return t.TitleEN
	}
	return t.TitleFR
}

func (h *Handler) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	live, ok := h.liveSession(w, r)
	if !ok {
		return
	}

	live.Mu.Lock()
	item, present := live.Engine.CurrentItem()
	topic := live.Topic
	live.Mu.Unlock()
	if !present {
		h.respondError(w, r, http.StatusConflict, "SessionFinished")
		return
	}

	text := item.AudioRef
	if text == "" {
		text = item.Answer
	}

	if h.announcer != nil {
		if file, ok := h.announcer.Announce(r.Context(), live.Token, text, topic.Lang); ok {
			respondJSON(w, http.StatusOK, map[string]any{"audio": "/audio/" + file})
			return
		}
	}

	// No file: tell the client to use browser speech synthesis. The text is
	// included only when it is not the answer key (dictation clients get a
	// bare fallback instead).
	fallback := map[string]any{"synthesize": true, "lang": topic.Lang}
	if topic.Collector != model.CollectorFreeText {
		fallback["text"] = text
	}
	respondJSON(w, http.StatusOK, fallback)
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	if file == "" || strings.ContainsAny(file, "/\\") || strings.Contains(file, "..") {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	http.ServeFile(w, r, filepath.Join(h.config.AudioDir, file))
}
