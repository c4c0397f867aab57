package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/mbertin/ardoise/internal/handler"
	appI18n "github.com/mbertin/ardoise/internal/i18n"
	"github.com/mbertin/ardoise/internal/llm"
	"github.com/mbertin/ardoise/internal/model"
	"github.com/mbertin/ardoise/internal/report"
	"github.com/mbertin/ardoise/internal/session"
	"github.com/mbertin/ardoise/internal/speech"
	"github.com/mbertin/ardoise/internal/store"
	"github.com/mbertin/ardoise/internal/textnorm"
)

// distractorCount is how many wrong options a choice item gets when the pack
// provides none.
const distractorCount = 3

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ardoise",
		Short: "Classroom practice server for dictation, quizzes and word games",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `ardoise --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP practice server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "ardoise.db", "SQLite database path")
	f.StringSliceP("topics", "t", []string{"topics/dictee_ce1.json"}, "Paths to topic pack JSON files (repeatable)")
	f.String("report-url", "", "Remote endpoint POSTed after each finished session (empty disables)")
	f.String("audio-dir", "audio", "Directory for cached pronunciation MP3s")
	f.Int("history-cap", 200, "Maximum persisted history entries")
	f.Duration("session-ttl", 2*time.Hour, "Idle time before an unfinished session expires")
	f.String("llm-url", "", "OpenAI-compatible API base URL for distractor generation (empty disables)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "fr", "Default UI language (fr, en)")
	f.Bool("secure-cookies", true, "Set Secure flag on teacher session cookies")
	f.String("admin-password", "", "Initial admin password (or set ARDOISE_ADMIN_PASSWORD)")
	f.String("school", "", "School name stored with exports")
	f.String("class", "", "Class name stored with exports")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export practice history as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "ardoise.db", "SQLite database path")
	f.String("date", "", "Export date in YYYY-MM-DD format (default today)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ARDOISE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("ardoise")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/ardoise")
	v.AddConfigPath("/etc/ardoise")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if school := v.GetString("school"); school != "" || v.GetString("class") != "" {
		info := model.SchoolInfo{School: school, Class: v.GetString("class")}
		if err := db.SetSchoolInfo(info); err != nil {
			return fmt.Errorf("store school info: %w", err)
		}
	}

	// Distractor generation is optional; an unreachable endpoint disables it
	// rather than blocking startup.
	var llmClient *llm.Client
	if url := v.GetString("llm-url"); url != "" {
		llmClient = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"))
		if err := llmClient.Ping(cmd.Context()); err != nil {
			slog.Warn("LLM endpoint unreachable, falling back to sampled distractors", "url", url, "error", err)
			llmClient = nil
		} else {
			slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
		}
	}

	if err := loadTopics(cmd.Context(), db, v.GetStringSlice("topics"), llmClient); err != nil {
		return fmt.Errorf("load topics: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var announcer speech.Announcer
	if dir := v.GetString("audio-dir"); dir != "" {
		svc, err := speech.New(dir)
		if err != nil {
			slog.Warn("audio cache unavailable, pronunciation disabled", "dir", dir, "error", err)
		} else {
			announcer = svc
		}
	}

	cfg := model.AppConfig{
		HistoryCap:    v.GetInt("history-cap"),
		ReportURL:     v.GetString("report-url"),
		AudioDir:      v.GetString("audio-dir"),
		SessionTTL:    v.GetDuration("session-ttl"),
		SecureCookies: v.GetBool("secure-cookies"),
		DefaultLang:   lang,
	}

	registry := session.NewRegistry(cfg.SessionTTL)
	go registry.Janitor(cmd.Context(), 10*time.Minute)

	reporter := report.New(db, cfg.HistoryCap, cfg.ReportURL)

	// Periodic maintenance alongside the registry janitor: expired teacher
	// logins and report statuses nobody polls anymore.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-cmd.Context().Done():
				return
			case <-ticker.C:
				if n, err := db.CleanupExpiredSessions(); err != nil {
					slog.Warn("auth session cleanup failed", "error", err)
				} else if n > 0 {
					slog.Debug("removed expired auth sessions", "count", n)
				}
				if n := reporter.Prune(time.Hour); n > 0 {
					slog.Debug("pruned report statuses", "count", n)
				}
			}
		}
	}()

	h := handler.New(db, registry, reporter, announcer, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"report_url", cfg.ReportURL,
		"history_cap", cfg.HistoryCap,
		"session_ttl", cfg.SessionTTL,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	date := v.GetString("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	export, err := db.ExportHistory(date)
	if err != nil {
		return fmt.Errorf("export history: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	return nil
}

func loadTopics(ctx context.Context, db *store.Store, paths []string, llmClient *llm.Client) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("topic pack unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("topic pack changed since last import, skipping to preserve existing history",
				"path", path)
			continue
		}

		var pack model.TopicImport
		if err := json.Unmarshal(data, &pack); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if pack.Slug == "" {
			pack.Slug = textnorm.Slug(pack.TitleFR)
			if pack.Slug == "" {
				pack.Slug = textnorm.Slug(pack.TitleEN)
			}
		}
		if err := validatePack(pack); err != nil {
			return fmt.Errorf("invalid pack %s: %w", path, err)
		}

		if pack.Policy == "" {
			pack.Policy = model.DefaultPolicy(pack.Collector)
		}
		if pack.Collector == model.CollectorChoice {
			fillDistractors(ctx, &pack, llmClient)
		}

		topicID, err := db.InsertTopic(model.Topic{
			Slug:      pack.Slug,
			TitleEN:   pack.TitleEN,
			TitleFR:   pack.TitleFR,
			Lang:      pack.Lang,
			Level:     pack.Level,
			Collector: pack.Collector,
			Policy:    pack.Policy,
			BlockSize: pack.BlockSize,
			MaxErrors: pack.MaxErrors,
		})
		if err != nil {
			return fmt.Errorf("insert topic from %s: %w", path, err)
		}
		if err := db.InsertItems(topicID, pack.Items); err != nil {
			return fmt.Errorf("insert items from %s: %w", path, err)
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported topic pack", "path", path, "slug", pack.Slug, "items", len(pack.Items))
	}

	return nil
}

func validatePack(pack model.TopicImport) error {
	if pack.Slug == "" {
		return fmt.Errorf("missing slug")
	}
	if !model.ValidKind(pack.Collector) {
		return fmt.Errorf("unknown collector kind %q", pack.Collector)
	}
	if pack.Lang != "fr" && pack.Lang != "en" {
		return fmt.Errorf("unsupported lang %q", pack.Lang)
	}
	if len(pack.Items) == 0 {
		return fmt.Errorf("no items")
	}
	for i, item := range pack.Items {
		if item.Answer == "" {
			return fmt.Errorf("item %d has no answer", i)
		}
	}
	return nil
}

// fillDistractors gives every optionless choice item a set of wrong options,
// from the LLM when available, otherwise sampled from sibling answers.
func fillDistractors(ctx context.Context, pack *model.TopicImport, llmClient *llm.Client) {
	for i := range pack.Items {
		if len(pack.Items[i].Options) > 0 {
			continue
		}
		item := &pack.Items[i]

		if llmClient != nil {
			opts, err := llmClient.GenerateDistractors(ctx, item.Answer, pack.Lang, pack.Level, distractorCount)
			if err == nil && len(opts) > 0 {
				item.Options = opts
				continue
			}
			slog.Warn("distractor generation failed, sampling siblings",
				"answer", item.Answer, "error", err)
		}
		item.Options = sampleDistractors(pack.Items, i, distractorCount)
	}
}

func sampleDistractors(items []model.ItemImport, self, n int) []string {
	var candidates []string
	for j, other := range items {
		if j == self || textnorm.Equal(other.Answer, items[self].Answer) {
			continue
		}
		candidates = append(candidates, other.Answer)
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or ARDOISE_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
