package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bimmerbailey/prompthakcer/internal/config"
	"github.com/bimmerbailey/prompthakcer/internal/history"
	"github.com/bimmerbailey/prompthakcer/internal/output"
	"github.com/bimmerbailey/prompthakcer/internal/rules"
	"github.com/bimmerbailey/prompthakcer/internal/settings"
	"github.com/bimmerbailey/prompthakcer/internal/source"
)

// app bundles everything a command needs: configuration, the loaded rule
// store and the persistence backends.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *rules.Store
	loader   *source.Loader
	settings settings.Provider
	redis    *redis.Client
	sink     history.Sink
}

// newLogger builds the stderr logger. Errors only by default, info with
// --verbose, or whatever log_level names.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelError
	if cfg.LogLevel != "" {
		level = config.ParseLogLevel(cfg.LogLevel)
	} else if cfg.Verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// newApp loads configuration, rule sources and persisted settings.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: newLogger(cfg)}

	if cfg.Settings.Backend == "redis" || cfg.History.Backend == history.BackendRedis {
		a.redis, err = settings.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
	}

	switch cfg.Settings.Backend {
	case "", "file":
		path := cfg.Settings.Path
		if path == "" {
			path = config.DefaultSettingsPath()
		}
		a.settings = settings.NewFileProvider(config.ExpandHome(path))
	case "redis":
		a.settings = settings.NewRedisProvider(a.redis, cfg.Redis.KeyPrefix)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown settings backend %q (expected file or redis)", cfg.Settings.Backend)
	}

	a.loader = source.NewLoader(ruleOverride(cfg, a.logger), a.logger)
	a.store = rules.NewStore(a.logger, rules.WithMatchTimeout(cfg.Rules.MatchTimeout))

	src := a.loader.Load(ctx)
	st, err := a.settings.Load(ctx)
	if err != nil {
		a.logger.Warn("failed to load settings, using defaults", "error", err)
	} else {
		src.Settings = st
	}

	report := a.store.Load(src)
	a.logger.Info("rules loaded", "source", report.Source, "rules", report.Rules, "custom", report.CustomRules, "skipped", len(report.Skipped))
	for _, s := range report.Skipped {
		a.logger.Warn("skipped rule", "id", s.ID, "reason", s.Reason)
	}

	if (st == nil || st.CompressionLevel == "") && cfg.CompressionLevel != "" {
		if err := a.store.SetCompressionLevel(cfg.CompressionLevel); err != nil {
			a.logger.Warn("ignoring configured compression level", "error", err)
		}
	}

	return a, nil
}

// ruleOverride picks the user rule source: a local file wins over a URL.
func ruleOverride(cfg *config.Config, logger *slog.Logger) source.Provider {
	switch {
	case cfg.Rules.File != "":
		return source.File{Path: config.ExpandHome(cfg.Rules.File)}
	case cfg.Rules.RemoteURL != "":
		cacheFile := config.DefaultRulesCachePath()
		if cfg.Rules.CacheFile != "" {
			cacheFile = config.ExpandHome(cfg.Rules.CacheFile)
		}
		return source.NewRemote(cfg.Rules.RemoteURL, logger,
			source.WithTTL(cfg.Rules.CacheTTL),
			source.WithCacheFile(cacheFile),
			source.WithHTTPClient(&http.Client{Timeout: cfg.Rules.FetchTimeout}),
		)
	default:
		return nil
	}
}

// historySink opens the configured stats backend on first use.
func (a *app) historySink() (history.Sink, error) {
	if a.sink != nil {
		return a.sink, nil
	}

	path := a.cfg.History.Path
	if path == "" {
		path = config.DefaultHistoryPath(a.cfg.History.Backend)
	}
	sink, err := history.Open(history.Options{
		Backend:    a.cfg.History.Backend,
		Path:       config.ExpandHome(path),
		MaxEntries: a.cfg.History.MaxEntries,
		Redis:      a.redis,
		KeyPrefix:  a.cfg.Redis.KeyPrefix,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	a.sink = sink
	return sink, nil
}

// save persists the store settings.
func (a *app) save(ctx context.Context) error {
	if err := a.settings.Save(ctx, a.store.Settings()); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Close releases the history sink and the redis connection.
func (a *app) Close() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("failed to close history", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// writer returns an output writer for the configured format.
func (a *app) writer(w io.Writer) *output.Writer {
	return output.New(w, output.ParseFormat(a.cfg.Format))
}

// commandContext returns the command's context, or Background when the
// command was not started through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// readPrompt joins args, or reads stdin when no args are given and stdin
// is not a terminal.
func readPrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && output.IsTerminal(f) {
		return "", nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
