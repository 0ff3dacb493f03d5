// Command overseer is the thin cobra shell over the orchestrator core: it
// parses flags, loads config, wires the concrete sqlite/jj backends, and
// dispatches into internal/task, internal/workflow and internal/export. It
// carries no orchestration logic of its own, mirroring the teacher's split
// between cmd/bd (cobra) and internal/... (the engine).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/overseer/internal/export"
	"github.com/steveyegge/overseer/internal/store/sqlite"
	"github.com/steveyegge/overseer/internal/task"
	"github.com/steveyegge/overseer/internal/vcsbackend"
	"github.com/steveyegge/overseer/internal/vcsbackend/jjadapter"
	"github.com/steveyegge/overseer/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Hierarchical task orchestrator for AI coding agents",
	Long: `overseer tracks milestones, tasks and subtasks, couples their
lifecycle to a jj working copy, and bubbles learnings up the hierarchy
as work completes.`,
	SilenceUsage: true,
}

// app bundles the wired services a command needs. Built once in
// PersistentPreRunE, torn down in PersistentPostRunE.
type app struct {
	db       *sqlite.DB
	tasks    *task.Service
	workflow *workflow.Service
	export   *export.Service
}

var current *app

func init() {
	rootCmd.PersistentFlags().String("dir", "", "overseer state directory (default: .overseer in the repo root)")
	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		current = a
		return nil
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if current != nil && current.db != nil {
			return current.db.Close()
		}
		return nil
	}
}

// overseerConfig is the [.overseer/config.toml] shape viper loads.
type overseerConfig struct {
	DefaultPriority    int    `mapstructure:"default_priority" toml:"default_priority"`
	BookmarkPrefix     string `mapstructure:"bookmark_prefix" toml:"bookmark_prefix"`
	BlockedCacheExpiry string `mapstructure:"blocked_cache_refresh" toml:"blocked_cache_refresh"`
}

func loadConfig(stateDir string) (overseerConfig, error) {
	cfg := overseerConfig{DefaultPriority: 1, BookmarkPrefix: "task/", BlockedCacheExpiry: "5s"}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(stateDir)
	v.SetDefault("default_priority", cfg.DefaultPriority)
	v.SetDefault("bookmark_prefix", cfg.BookmarkPrefix)
	v.SetDefault("blocked_cache_refresh", cfg.BlockedCacheExpiry)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		// No config file yet: write the defaults so the next run (and a
		// human inspecting the repo) sees an explicit file.
		if mkErr := os.MkdirAll(stateDir, 0755); mkErr == nil {
			f, createErr := os.Create(filepath.Join(stateDir, "config.toml"))
			if createErr == nil {
				_ = toml.NewEncoder(f).Encode(cfg)
				_ = f.Close()
			}
		}
		return cfg, nil
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func newLogger(stateDir, subsystem string) *log.Logger {
	sink := &lumberjack.Logger{
		Filename:   filepath.Join(stateDir, "logs", "overseer.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	return log.New(sink, fmt.Sprintf("[%s] ", subsystem), log.LstdFlags|log.Lmicroseconds)
}

func stateDir() string {
	if d := viper.GetString("dir"); d != "" {
		return d
	}
	return ".overseer"
}

func bootstrap(ctx context.Context) (*app, error) {
	dir := stateDir()
	if _, err := loadConfig(dir); err != nil {
		return nil, err
	}

	db, err := sqlite.Open(ctx, filepath.Join(dir, "overseer.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	taskRepo := sqlite.NewTaskRepo(db)
	learningRepo := sqlite.NewLearningRepo(db)
	tasks := task.NewService(taskRepo, learningRepo)

	var vcs vcsbackend.VcsBackend
	repoRoot, err := filepath.Abs(".")
	if err == nil {
		if adapter, adErr := jjadapter.New(repoRoot); adErr == nil {
			vcs = adapter
		}
	}
	var wf *workflow.Service
	if vcs != nil {
		wf = workflow.NewService(tasks, vcs, newLogger(dir, "workflow"))
	}

	return &app{
		db:       db,
		tasks:    tasks,
		workflow: wf,
		export:   export.NewService(taskRepo, learningRepo),
	}, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "overseer: %v\n", err)
	os.Exit(1)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fail(err)
	}
}
