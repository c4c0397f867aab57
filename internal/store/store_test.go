package store

import (
	"errors"
	"testing"
	"time"

	"github.com/mbertin/ardoise/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestTopic(t *testing.T, s *Store, slug, level string, kind model.CollectorKind) int64 {
	t.Helper()
	id, err := s.InsertTopic(model.Topic{
		Slug:      slug,
		TitleEN:   "Week for " + slug,
		TitleFR:   "Semaine pour " + slug,
		Lang:      "fr",
		Level:     level,
		Collector: kind,
		Policy:    model.DefaultPolicy(kind),
	})
	if err != nil {
		t.Fatalf("insertTestTopic: %v", err)
	}
	return id
}

func TestTopicCRUD(t *testing.T) {
	s := newTestStore(t)

	// Empty DB should return zero count and empty list.
	count, err := s.TopicCount()
	if err != nil {
		t.Fatalf("TopicCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 topics, got %d", count)
	}

	list, err := s.ListTopics()
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	// Insert and retrieve.
	insertTestTopic(t, s, "dictee-s01", "CP", model.CollectorFreeText)
	topic, err := s.GetTopic("dictee-s01")
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if topic.TitleFR != "Semaine pour dictee-s01" {
		t.Errorf("unexpected French title %q", topic.TitleFR)
	}
	if topic.Collector != model.CollectorFreeText {
		t.Errorf("expected free_text collector, got %q", topic.Collector)
	}
	if topic.Policy != model.PolicyAdvanceOnError {
		t.Errorf("expected advance_on_error, got %q", topic.Policy)
	}

	// Not found maps to the sentinel.
	_, err = s.GetTopic("nope")
	if !errors.Is(err, model.ErrTopicNotFound) {
		t.Errorf("expected ErrTopicNotFound, got %v", err)
	}

	// Multiple topics, ordered by slug.
	insertTestTopic(t, s, "animaux-en", "CE1", model.CollectorChoice)
	list, err = s.ListTopics()
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(list))
	}
	if list[0].Slug != "animaux-en" {
		t.Errorf("expected alphabetical order, got %q first", list[0].Slug)
	}

	count, err = s.TopicCount()
	if err != nil {
		t.Fatalf("TopicCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}

func TestListTopicsFiltered(t *testing.T) {
	s := newTestStore(t)
	insertTestTopic(t, s, "t1", "CP", model.CollectorFreeText)
	insertTestTopic(t, s, "t2", "CE1", model.CollectorFreeText)
	insertTestTopic(t, s, "t3", "CP", model.CollectorChoice)

	tests := []struct {
		name      string
		level     string
		lang      string
		wantCount int
	}{
		{"no filter", "", "", 3},
		{"by level CP", "CP", "", 2},
		{"by level CE1", "CE1", "", 1},
		{"by lang fr", "", "fr", 3},
		{"by both", "CP", "fr", 2},
		{"no match", "CM2", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topics, err := s.ListTopicsFiltered(tt.level, tt.lang)
			if err != nil {
				t.Fatalf("ListTopicsFiltered: %v", err)
			}
			if len(topics) != tt.wantCount {
				t.Errorf("expected %d topics, got %d", tt.wantCount, len(topics))
			}
		})
	}
}

func TestItemsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	topicID := insertTestTopic(t, s, "syllabes-s02", "CP", model.CollectorTokenAssembly)

	imports := []model.ItemImport{
		{Prompt: "🦋", Answer: "papillon", Tokens: []string{"pa", "pil", "lon"}},
		{Prompt: "🐱", Answer: "chat", AudioRef: "chat.mp3"},
		{Prompt: "?", Answer: "chien", Options: []string{"chat", "lapin"}},
	}
	if err := s.InsertItems(topicID, imports); err != nil {
		t.Fatalf("InsertItems: %v", err)
	}

	items, err := s.ListItems(topicID)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	// Order preserved via position.
	if items[0].Answer != "papillon" || items[2].Answer != "chien" {
		t.Errorf("items out of order: %v", items)
	}
	if len(items[0].Tokens) != 3 || items[0].Tokens[1] != "pil" {
		t.Errorf("tokens not preserved: %v", items[0].Tokens)
	}
	if items[1].Tokens != nil {
		t.Errorf("expected nil tokens, got %v", items[1].Tokens)
	}
	if items[1].AudioRef != "chat.mp3" {
		t.Errorf("audio ref not preserved: %q", items[1].AudioRef)
	}
	if len(items[2].Options) != 2 {
		t.Errorf("options not preserved: %v", items[2].Options)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	entry := model.HistoryEntry{
		Student:        "Léa",
		Level:          "CP",
		TopicSlug:      "dictee-s01",
		TopicTitle:     "Dictée semaine 1",
		Collector:      model.CollectorFreeText,
		Score:          2,
		Total:          3,
		ErrorCount:     1,
		ElapsedSeconds: 47,
	}
	if _, err := s.AppendHistory(entry, 50); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	entries, err := s.ListHistory()
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.TopicSlug != entry.TopicSlug || got.Score != entry.Score || got.Total != entry.Total {
		t.Errorf("round-trip mismatch: got {%s %d %d}, want {%s %d %d}",
			got.TopicSlug, got.Score, got.Total, entry.TopicSlug, entry.Score, entry.Total)
	}
	if got.Student != "Léa" || got.ElapsedSeconds != 47 {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}
}

func TestHistoryCap(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 8; i++ {
		entry := model.HistoryEntry{TopicSlug: "t", Score: i, Total: 10}
		if _, err := s.AppendHistory(entry, 5); err != nil {
			t.Fatalf("AppendHistory %d: %v", i, err)
		}
	}

	entries, err := s.ListHistory()
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected cap of 5, got %d", len(entries))
	}
	// Newest first; the oldest three (scores 0..2) were trimmed.
	if entries[0].Score != 7 || entries[4].Score != 3 {
		t.Errorf("wrong entries survived: first=%d last=%d", entries[0].Score, entries[4].Score)
	}
}

func TestClearHistory(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.AppendHistory(model.HistoryEntry{TopicSlug: "t", Total: 1}, 0); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}
	count, _ := s.HistoryCount()
	if count != 3 {
		t.Fatalf("expected 3 entries, got %d", count)
	}

	if err := s.ClearHistory(); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	count, err := s.HistoryCount()
	if err != nil {
		t.Fatalf("HistoryCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty history, got %d", count)
	}
}

func TestUsersAndAuthSessions(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateUser(model.User{
		Username:     "mme.girard",
		DisplayName:  "Mme Girard",
		PasswordHash: "hash",
		Role:         model.UserRoleTeacher,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.GetUserByUsername("mme.girard")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id || u.Role != model.UserRoleTeacher {
		t.Fatalf("unexpected user %+v", u)
	}

	missing, err := s.GetUserByUsername("nobody")
	if err != nil {
		t.Fatalf("GetUserByUsername missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown username")
	}

	token, err := s.CreateAuthSession(id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	sess, err := s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if sess == nil || sess.UserID != id {
		t.Fatalf("unexpected auth session %+v", sess)
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	sess, _ = s.GetAuthSession(token)
	if sess != nil {
		t.Error("expected nil after delete")
	}

	if err := s.ToggleUserActive(id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	u, _ = s.GetUserByID(id)
	if u.Active {
		t.Error("expected inactive after toggle")
	}
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	s := newTestStore(t)

	for _, role := range []model.UserRole{"student", "pupil", ""} {
		_, err := s.CreateUser(model.User{
			Username:     "x-" + string(role),
			PasswordHash: "hash",
			Role:         role,
			Active:       true,
		})
		if err == nil {
			t.Errorf("CreateUser accepted role %q", role)
		}
	}
}

func TestListUsersOmitsPasswordHashes(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateUser(model.User{
		Username:     "mme.girard",
		DisplayName:  "Mme Girard",
		PasswordHash: "topsecret",
		Role:         model.UserRoleTeacher,
		Active:       true,
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	if users[0].PasswordHash != "" {
		t.Error("ListUsers loaded a password hash")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateUser(model.User{
		Username:     "mme.girard",
		PasswordHash: "hash",
		Role:         model.UserRoleTeacher,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	live, err := s.CreateAuthSession(id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	// An already-expired token, as the maintenance sweep would find it.
	past := time.Now().Add(-time.Hour)
	if _, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		"stale-token", id, past.Add(-authSessionTTL), past,
	); err != nil {
		t.Fatalf("insert stale session: %v", err)
	}

	n, err := s.CleanupExpiredSessions()
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d sessions, want 1", n)
	}
	if sess, _ := s.GetAuthSession(live); sess == nil {
		t.Error("live session was swept")
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	// Missing file returns empty string.
	hash, err := s.GetImportedFileHash("/some/pack.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	// Set hash.
	if err := s.SetImportedFileHash("/some/pack.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, err = s.GetImportedFileHash("/some/pack.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "abc123" {
		t.Errorf("expected 'abc123', got %q", hash)
	}

	// Update existing.
	if err := s.SetImportedFileHash("/some/pack.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/pack.json")
	if hash != "def456" {
		t.Errorf("expected 'def456', got %q", hash)
	}
}

func TestSchoolInfoAndExport(t *testing.T) {
	s := newTestStore(t)

	err := s.SetSchoolInfo(model.SchoolInfo{School: "École Jules Ferry", Class: "CP-A"})
	if err != nil {
		t.Fatalf("SetSchoolInfo: %v", err)
	}
	info, err := s.GetSchoolInfo()
	if err != nil {
		t.Fatalf("GetSchoolInfo: %v", err)
	}
	if info.School != "École Jules Ferry" || info.Class != "CP-A" {
		t.Errorf("unexpected info %+v", info)
	}

	if _, err := s.AppendHistory(model.HistoryEntry{TopicSlug: "t", Score: 3, Total: 5}, 0); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	export, err := s.ExportHistory("2026-09-01")
	if err != nil {
		t.Fatalf("ExportHistory: %v", err)
	}
	if export.School != "École Jules Ferry" || export.NumEntries != 1 {
		t.Errorf("unexpected export %+v", export)
	}
	if export.Entries[0].Score != 3 {
		t.Errorf("unexpected entry %+v", export.Entries[0])
	}
}

func TestListDistinctLevels(t *testing.T) {
	s := newTestStore(t)

	levels, err := s.ListDistinctLevels()
	if err != nil {
		t.Fatalf("ListDistinctLevels: %v", err)
	}
	if len(levels) != 0 {
		t.Errorf("expected 0 levels, got %d", len(levels))
	}

	insertTestTopic(t, s, "a", "CP", model.CollectorFreeText)
	insertTestTopic(t, s, "b", "CP", model.CollectorFreeText)
	insertTestTopic(t, s, "c", "CE1", model.CollectorFreeText)
	levels, _ = s.ListDistinctLevels()
	if len(levels) != 2 {
		t.Fatalf("expected 2 distinct levels, got %d: %v", len(levels), levels)
	}
	// Ordered alphabetically.
	if levels[0] != "CE1" || levels[1] != "CP" {
		t.Errorf("expected [CE1 CP], got %v", levels)
	}
}
