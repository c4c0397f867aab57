package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"

	"github.com/mbertin/ardoise/internal/model"
)

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListHistory()
	if err != nil {
		slog.Error("list history", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearHistory(); err != nil {
		slog.Error("clear history", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}
	user := model.UserFromContext(r.Context())
	slog.Info("history cleared", "by", user.Username)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	export, err := h.store.ExportHistory(date)
	if err != nil {
		slog.Error("export history", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "ardoise_"+date+".json"))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		slog.Error("encode export", "error", err)
	}
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("list users", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}
	views := make([]userView, 0, len(users))
	for i := range users {
		views = append(views, viewUser(&users[i]))
	}
	respondJSON(w, http.StatusOK, views)
}

type createUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	if req.Username == "" || req.Password == "" {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	role := model.UserRole(req.Role)
	if role != model.UserRoleTeacher && role != model.UserRoleAdmin {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("hash password", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		slog.Error("create user", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}

	slog.Info("user created", "id", id, "username", req.Username, "role", role)
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	if err := h.store.ToggleUserActive(id); err != nil {
		slog.Error("toggle user active", "id", id, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetSchool(w http.ResponseWriter, r *http.Request) {
	var info model.SchoolInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	if err := h.store.SetSchoolInfo(info); err != nil {
		slog.Error("set school info", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "InvalidRequest")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
