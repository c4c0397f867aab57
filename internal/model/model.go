package model

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors translated to friendly responses at the HTTP boundary.
var (
	// ErrTopicNotFound is returned when a topic slug has no imported pack.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrSessionNotFound is returned for unknown or expired session tokens.
	ErrSessionNotFound = errors.New("session not found")
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user (teachers and admins; pupils do not log in).
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// CollectorKind is the input modality used to gather an answer.
type CollectorKind string

const (
	// CollectorChoice presents shuffled options; one tap resolves the item.
	CollectorChoice CollectorKind = "choice"
	// CollectorFreeText accumulates typed text; submit is explicit.
	CollectorFreeText CollectorKind = "free_text"
	// CollectorTokenAssembly builds the answer token by token in order.
	CollectorTokenAssembly CollectorKind = "token_assembly"
	// CollectorOrdering picks whole items from a pool in the required order.
	CollectorOrdering CollectorKind = "ordering"
)

// ValidKind reports whether k names a known collector kind.
func ValidKind(k CollectorKind) bool {
	switch k {
	case CollectorChoice, CollectorFreeText, CollectorTokenAssembly, CollectorOrdering:
		return true
	}
	return false
}

// ErrorPolicy names what a wrong submission does to session progress.
type ErrorPolicy string

const (
	// PolicyAdvanceOnError records the error and moves to the next item.
	PolicyAdvanceOnError ErrorPolicy = "advance_on_error"
	// PolicyResetOnError clears the in-progress assembly for the current item.
	PolicyResetOnError ErrorPolicy = "reset_on_error"
	// PolicyRejectOnError rejects the pick but keeps prior progress.
	PolicyRejectOnError ErrorPolicy = "reject_on_error"
)

// DefaultPolicy returns the standard error policy for a collector kind.
func DefaultPolicy(k CollectorKind) ErrorPolicy {
	switch k {
	case CollectorTokenAssembly:
		return PolicyResetOnError
	case CollectorOrdering:
		return PolicyRejectOnError
	default:
		return PolicyAdvanceOnError
	}
}

// SessionStatus represents the status of a play-through.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not_started"
	StatusInProgress SessionStatus = "in_progress"
	StatusFinished   SessionStatus = "finished"
)

// ReportStatus tracks the best-effort remote score submission.
type ReportStatus string

const (
	ReportPending ReportStatus = "pending"
	ReportSent    ReportStatus = "sent"
	ReportFailed  ReportStatus = "failed"
	// ReportSkipped means no remote endpoint is configured.
	ReportSkipped ReportStatus = "skipped"
)

// Topic represents one imported activity pack (a week of dictation words,
// a set of quiz questions, ...).
type Topic struct {
	ID        int64         `json:"id"`
	Slug      string        `json:"slug"`
	TitleEN   string        `json:"title_en"`
	TitleFR   string        `json:"title_fr"`
	Lang      string        `json:"lang"`
	Level     string        `json:"level"`
	Collector CollectorKind `json:"collector"`
	Policy    ErrorPolicy   `json:"policy"`
	BlockSize int           `json:"block_size"`
	MaxErrors int           `json:"max_errors"`
	CreatedAt time.Time     `json:"created_at"`
}

// Item is one unit of practice content. Immutable after import.
type Item struct {
	ID       int64    `json:"id"`
	TopicID  int64    `json:"topic_id"`
	Position int      `json:"position"`
	Prompt   string   `json:"prompt"`
	Answer   string   `json:"answer"`
	Tokens   []string `json:"tokens,omitempty"`
	Options  []string `json:"options,omitempty"`
	AudioRef string   `json:"audio_ref,omitempty"`
}

// Attempt is one recorded pupil response to an item. Never mutated.
type Attempt struct {
	ItemIndex int       `json:"item_index"`
	Value     string    `json:"value"`
	Correct   bool      `json:"correct"`
	At        time.Time `json:"at"`
}

// HistoryEntry is the persisted summary of one finished session.
type HistoryEntry struct {
	ID             int64         `json:"id"`
	CreatedAt      time.Time     `json:"created_at"`
	Student        string        `json:"student"`
	Level          string        `json:"level"`
	TopicSlug      string        `json:"topic"`
	TopicTitle     string        `json:"topic_title"`
	Collector      CollectorKind `json:"collector"`
	Score          int           `json:"score"`
	Total          int           `json:"total"`
	ErrorCount     int           `json:"error_count"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
}

// TopicImport is the on-disk JSON format for a topic pack.
type TopicImport struct {
	Slug      string        `json:"slug"`
	TitleEN   string        `json:"title_en"`
	TitleFR   string        `json:"title_fr"`
	Lang      string        `json:"lang"`
	Level     string        `json:"level"`
	Collector CollectorKind `json:"collector"`
	Policy    ErrorPolicy   `json:"policy,omitempty"`
	BlockSize int           `json:"block_size,omitempty"`
	MaxErrors int           `json:"max_errors,omitempty"`
	Items     []ItemImport  `json:"items"`
}

// ItemImport is one item within a topic pack file.
type ItemImport struct {
	Prompt   string   `json:"prompt"`
	Answer   string   `json:"answer"`
	Tokens   []string `json:"tokens,omitempty"`
	Options  []string `json:"options,omitempty"`
	AudioRef string   `json:"audio,omitempty"`
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	HistoryCap    int    // max persisted history entries
	ReportURL     string // remote score sink; empty disables the POST
	AudioDir      string // cached MP3 directory
	SessionTTL    time.Duration
	SecureCookies bool
	DefaultLang   string
}
