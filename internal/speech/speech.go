// Package speech is the server side of the "announce" capability: it turns
// item text into a cached MP3 the client can play. When no file can be
// produced the client is told to fall back to browser speech synthesis, so
// an audio failure never reaches session state.
package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mbertin/ardoise/internal/textnorm"
)

// Announcer resolves text to a playable audio file name.
// ok=false means the caller should use synthesized speech instead.
type Announcer interface {
	Announce(ctx context.Context, key, text, lang string) (file string, ok bool)
}

// inflightFetch identifies one TTS fetch so its cleanup removes only its
// own registry entry, never a newer one for the same key.
type inflightFetch struct {
	cancel context.CancelFunc
}

// Service caches MP3s in a directory, fetching missing ones from a TTS
// endpoint. A new announce for the same key cancels the previous in-flight
// fetch (cancel-then-play).
type Service struct {
	audioDir string
	tts      *ttsClient

	mu       sync.Mutex
	inflight map[string]*inflightFetch
}

// New creates a speech service caching files under audioDir.
func New(audioDir string) (*Service, error) {
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return nil, err
	}
	return &Service{
		audioDir: audioDir,
		tts:      newTTSClient(),
		inflight: make(map[string]*inflightFetch),
	}, nil
}

// FileName returns the cache file name for text in lang. The name is an
// opaque digest: audio URLs are visible to pupils, and for dictation the
// spoken text is the answer key, so it must not show in the file name.
func FileName(text, lang string) string {
	sum := sha256.Sum256([]byte(lang + "\x00" + textnorm.Fold(text)))
	return hex.EncodeToString(sum[:8]) + ".mp3"
}

// Announce resolves text to an MP3 file name. key identifies the caller
// (one live session) so that a fresh announce cancels its previous fetch.
func (s *Service) Announce(ctx context.Context, key, text, lang string) (string, bool) {
	name := FileName(text, lang)
	path := filepath.Join(s.audioDir, name)
	if _, err := os.Stat(path); err == nil {
		return name, true
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	entry := &inflightFetch{cancel: cancel}
	s.mu.Lock()
	if prev, ok := s.inflight[key]; ok {
		prev.cancel()
	}
	s.inflight[key] = entry
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		if s.inflight[key] == entry {
			delete(s.inflight, key)
		}
		s.mu.Unlock()
	}()

	if err := s.tts.fetch(fetchCtx, text, lang, path); err != nil {
		slog.Warn("audio fetch failed, falling back to synthesis", "text", text, "error", err)
		return "", false
	}
	return name, true
}

// Dir returns the audio cache directory, for the static file route.
func (s *Service) Dir() string { return s.audioDir }
