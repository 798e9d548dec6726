package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/schaermu/gitcom/internal/chance"
	"github.com/schaermu/gitcom/internal/config"
	"github.com/schaermu/gitcom/internal/drift"
	"github.com/schaermu/gitcom/internal/fault"
	"github.com/schaermu/gitcom/internal/git"
	"github.com/schaermu/gitcom/internal/identity"
	"github.com/schaermu/gitcom/internal/message"
	"github.com/schaermu/gitcom/internal/simulate"
	"github.com/schaermu/gitcom/internal/snapshot"
	"github.com/schaermu/gitcom/internal/structure"
	"github.com/schaermu/gitcom/internal/ux"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Run flags
	dryRun     bool
	forceWork  bool
	forceMulti bool
	pushFlag   bool
	seedFlag   uint64
	startFlag  string
	endFlag    string
	rangeFlag  string
	dateFlag   string
	metrics    bool

	// Snapshot flags
	snapshotDate string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gitcom",
	Short: "Simulate a plausible commit history in a Git repository",
	Long: `gitcom simulates day-by-day work on a repository. For every calendar day it
decides whether work happens, plans a sequence of structural changes (add,
edit, delete, rename) that are always valid against the tracked structure,
groups them into commits and writes those commits with backdated timestamps.

The structure is kept in a snapshot between runs and a markdown story of each
run is written next to it.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Simulate every day in a date range",
	Long: `Run simulates each calendar day from --start to --end (inclusive), or the
range given as --range START__END. Dates use the YYYY-MM-DD format.`,
	RunE: runRun,
}

var dayCmd = &cobra.Command{
	Use:   "day",
	Short: "Simulate a single day",
	RunE:  runDay,
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Compare the snapshot with the repository",
	Long: `Drift reads the stored snapshot and the paths tracked at HEAD and reports
how they differ. Nothing is changed.`,
	RunE: runDrift,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the stored structure",
	Long: `Snapshot prints the paths of the stored structural snapshot. With --date it
prints the structure a given day ended with, which needs the badger backend.`,
	RunE: runSnapshot,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gitcom %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/gitcom/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	for _, c := range []*cobra.Command{runCmd, dayCmd} {
		c.Flags().BoolVar(&dryRun, "dry-run", false, "log what would be committed without touching the repository or snapshot")
		c.Flags().BoolVar(&forceWork, "force-work", false, "treat every day as a work day")
		c.Flags().BoolVar(&forceMulti, "force-multi", false, "always split work days into several commits")
		c.Flags().BoolVar(&pushFlag, "push", false, "push after the last day (overrides repo.push)")
		c.Flags().Uint64Var(&seedFlag, "seed", 0, "random seed for a reproducible run")
		c.Flags().BoolVar(&metrics, "metrics", false, "log collected run metrics when done")
	}

	runCmd.Flags().StringVar(&startFlag, "start", "", "first day (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&endFlag, "end", "", "last day (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&rangeFlag, "range", "", "date range as YYYY-MM-DD__YYYY-MM-DD")
	runCmd.MarkFlagsMutuallyExclusive("range", "start")
	runCmd.MarkFlagsMutuallyExclusive("range", "end")

	dayCmd.Flags().StringVar(&dateFlag, "date", "", "day to simulate (YYYY-MM-DD)")
	_ = dayCmd.MarkFlagRequired("date")

	snapshotCmd.Flags().StringVar(&snapshotDate, "date", "", "show the structure at the end of this day (YYYY-MM-DD)")

	// Add commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dayCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(versionCmd)
}

// runFlags are the per-invocation switches of run and day
type runFlags struct {
	dryRun     bool
	forceWork  bool
	forceMulti bool
	metrics    bool
	push       *bool
	seed       *uint64
}

func currentRunFlags(cmd *cobra.Command) runFlags {
	f := runFlags{dryRun: dryRun, forceWork: forceWork, forceMulti: forceMulti, metrics: metrics}
	if cmd.Flags().Changed("push") {
		push := pushFlag
		f.push = &push
	}
	if cmd.Flags().Changed("seed") {
		seed := seedFlag
		f.seed = &seed
	}
	return f
}

func runRun(cmd *cobra.Command, args []string) error {
	start, end, err := resolveRange(rangeFlag, startFlag, endFlag)
	if err != nil {
		return err
	}
	return execute(cmd, start, end)
}

func runDay(cmd *cobra.Command, args []string) error {
	day, err := simulate.ParseDate(dateFlag)
	if err != nil {
		return err
	}
	return execute(cmd, day, day)
}

func execute(cmd *cobra.Command, start, end time.Time) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	return runSimulation(ctx, cmd.OutOrStdout(), logger, cfg, start, end, currentRunFlags(cmd))
}

// resolveRange turns the run flags into an inclusive date range
func resolveRange(rangeValue, startValue, endValue string) (time.Time, time.Time, error) {
	if rangeValue != "" {
		return simulate.ParseRange(rangeValue)
	}
	if startValue == "" || endValue == "" {
		return time.Time{}, time.Time{}, fault.Preconditionf("date", "either --range or both --start and --end are required")
	}
	start, err := simulate.ParseDate(startValue)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := simulate.ParseDate(endValue)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fault.Preconditionf("date", "end %s is before start %s", endValue, startValue)
	}
	return start, end, nil
}

func runSimulation(ctx context.Context, out io.Writer, logger *slog.Logger, cfg *config.Config, start, end time.Time, flags runFlags) error {
	seed := chance.RandomSeed()
	if flags.seed != nil {
		seed = *flags.seed
	}
	logger.Info("random seed", "seed", seed, "fixed", flags.seed != nil)

	if flags.metrics {
		reader, shutdown := setupMetrics()
		defer func() {
			if err := logMetrics(context.WithoutCancel(ctx), logger, reader); err != nil {
				logger.Warn("failed to collect metrics", "error", err)
			}
			_ = shutdown(context.WithoutCancel(ctx))
		}()
	}

	engine, closeStore, err := buildEngine(ctx, logger, cfg, flags)
	if err != nil {
		return err
	}
	defer closeStore()

	mode := "live"
	if flags.dryRun {
		mode = "dry-run"
	}
	logger.Info("starting simulation",
		"repo", cfg.Repo.Path,
		"mode", mode,
		"auth_method", cfg.AuthMethod(),
		"snapshot", cfg.Snapshot.Backend)

	res, runErr := engine.RunRange(ctx, start, end, chance.New(seed))
	if runErr != nil {
		logger.Error("simulation aborted", "error", runErr)
	}

	if res != nil {
		story := simulate.NewStory(res, cfg.Repo.Path, mode, seed, runErr)
		p, err := story.Write(cfg.StoriesDir())
		if err != nil {
			logger.Warn("failed to write story", "error", err)
		} else {
			logger.Info("story written", "path", p)
		}

		if err := summarize(res, runErr, start, end).Print(out); err != nil {
			logger.Warn("failed to print summary", "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	push := cfg.Repo.Push
	if flags.push != nil {
		push = *flags.push
	}
	if push {
		if flags.dryRun {
			logger.Info("dry-run, skipping push")
			return nil
		}
		if err := engine.Push(ctx); err != nil {
			return err
		}
	}
	return nil
}

// buildEngine wires the engine for cfg. The returned func releases the
// snapshot store and must be called once the engine is done.
func buildEngine(ctx context.Context, logger *slog.Logger, cfg *config.Config, flags runFlags) (*simulate.Engine, func(), error) {
	client := newGitClient(cfg)

	// The identity is checked before the repository is cloned or initialised
	// so a rejected identity leaves nothing behind. Without a repository yet,
	// git falls back to the global and system configuration.
	configDir := ""
	if isRepo(cfg.Repo.Path) {
		configDir = cfg.Repo.Path
	}
	resolver := identity.NewResolver(
		identity.Identity{Name: cfg.Identity.Name, Email: cfg.Identity.Email},
		cfg.Identity.AllowedEmails,
		identity.NewShellConfigReader(configDir),
	)
	author, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("commit identity", "author", author.String())

	var truth git.TruthReader
	if flags.dryRun {
		if configDir != "" {
			truth = client
		}
	} else {
		logger.Info("preparing repository", "path", cfg.Repo.Path, "url", cfg.Repo.URL)
		if err := client.EnsureRepo(ctx, cfg.Repo.URL); err != nil {
			return nil, nil, fmt.Errorf("failed to prepare repository: %w", err)
		}
		truth = client
	}

	var lex *message.Lexicon
	if cfg.Messages.LexiconFile != "" {
		if lex, err = message.LoadLexicon(cfg.Messages.LexiconFile); err != nil {
			return nil, nil, err
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	startOffset, err := cfg.StartOffset()
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var executor git.Executor = client
	if flags.dryRun {
		seeded, err := snapshot.LoadOrEmpty(ctx, store, logger)
		closeStore()
		if err != nil {
			return nil, nil, err
		}
		store = snapshot.NewMemoryStore(seeded)
		closeStore = func() {}
		executor = git.NewDryRun(logger, truth)
	}

	opts := simulate.Options{
		Generator: cfg.GeneratorConfig(),
		Rules:     cfg.ParadoxRules(),
		Planner:   cfg.PlannerConfig(),
		Decisions: simulate.Decisions{
			WorkProbability:        cfg.Commits.WorkProbability,
			MultiCommitProbability: cfg.Commits.MultiCommitProbability,
			ForceWork:              cfg.Commits.ForceWork || flags.forceWork,
			ForceMulti:             cfg.Commits.ForceMulti || flags.forceMulti,
		},
		Schedule: simulate.Schedule{
			Location: loc,
			Start:    startOffset,
			Spacing:  cfg.Schedule.Spacing,
			Jitter:   cfg.Schedule.Jitter,
		},
		Author:        author,
		Lexicon:       lex,
		RecentWindow:  cfg.Messages.RecentWindow,
		BootstrapDays: cfg.Messages.BootstrapDays,
		Drift:         cfg.Drift.Policy,
	}

	engine, err := simulate.NewEngine(opts, executor, store, truth, logger)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return engine, closeStore, nil
}

func newGitClient(cfg *config.Config) *git.ShellClient {
	return git.NewShellClient(git.Options{
		RepoDir:        cfg.Repo.Path,
		Remote:         cfg.Repo.Remote,
		Branch:         cfg.Repo.Branch,
		SSHKeyFile:     cfg.Auth.SSHKeyFile,
		HTTPSTokenFile: cfg.Auth.HTTPSTokenFile,
	})
}

// openStore opens the configured snapshot backend. The returned func closes
// it and is never nil when err is nil.
func openStore(cfg *config.Config, logger *slog.Logger) (snapshot.Store, func(), error) {
	var (
		store snapshot.Store
		err   error
	)
	switch cfg.Snapshot.Backend {
	case config.BackendS3:
		store, err = snapshot.NewS3Store(cfg.SnapshotS3())
	case config.BackendBadger:
		store, err = snapshot.NewBadgerStore(cfg.SnapshotDBPath(), logger.With("component", "badger"))
	default:
		store, err = snapshot.NewFileStore(cfg.SnapshotPath())
	}
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {}
	if c, ok := store.(io.Closer); ok {
		closeStore = func() {
			if err := c.Close(); err != nil {
				logger.Warn("failed to close snapshot store", "error", err)
			}
		}
	}
	return store, closeStore, nil
}

func isRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func summarize(res *simulate.RunResult, runErr error, start, end time.Time) ux.Summary {
	s := ux.Summary{
		Title: fmt.Sprintf("gitcom run %s → %s", start.Format(simulate.DateLayout), end.Format(simulate.DateLayout)),
		Paths: res.Final.Len(),
	}
	de, failed := simulate.IsDayError(runErr)

	for i, day := range res.Days {
		row := ux.DayRow{
			Date:    day.Date.Format(simulate.DateLayout),
			State:   ux.StateWork,
			Mode:    string(day.Mode),
			Actions: len(day.Actions),
			Commits: len(day.Commits),
		}
		switch {
		case failed && i == len(res.Days)-1:
			row.State = ux.StateFailed
			row.Note = fmt.Sprintf("stopped before %s", de.Phase)
		case day.Rest:
			row.State = ux.StateRest
		case day.Fallback:
			row.Note = "fallback add"
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

func runDrift(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	report, err := checkDrift(ctx, logger, cfg)
	if err != nil {
		return err
	}
	printDrift(cmd.OutOrStdout(), report, cfg.Drift.Policy)
	return nil
}

func checkDrift(ctx context.Context, logger *slog.Logger, cfg *config.Config) (drift.Report, error) {
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return drift.Report{}, err
	}
	defer closeStore()
	state, err := snapshot.LoadOrEmpty(ctx, store, logger)
	if err != nil {
		return drift.Report{}, err
	}
	if !isRepo(cfg.Repo.Path) {
		return drift.Report{}, fmt.Errorf("%s is not a git repository", cfg.Repo.Path)
	}
	head, err := newGitClient(cfg).HeadPaths(ctx)
	if err != nil {
		return drift.Report{}, err
	}
	return drift.Detect(state, head), nil
}

func printDrift(w io.Writer, report drift.Report, policy drift.Policy) {
	fmt.Fprintf(w, "drift: %s (policy: %s)\n", report, policy)
	for _, p := range report.Missing {
		fmt.Fprintf(w, "  - %s\n", p)
	}
	for _, p := range report.Untracked {
		fmt.Fprintf(w, "  + %s\n", p)
	}
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return showSnapshot(ctx, cmd.OutOrStdout(), logger, cfg, snapshotDate)
}

// dayHistory is implemented by stores that keep the snapshot of every day
type dayHistory interface {
	LoadDay(ctx context.Context, date string) (structure.State, bool, error)
	Days(ctx context.Context) ([]string, error)
}

func showSnapshot(ctx context.Context, w io.Writer, logger *slog.Logger, cfg *config.Config, date string) error {
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	history, hasHistory := store.(dayHistory)

	if date == "" {
		state, err := store.Load(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "snapshot (%s): %d paths\n", cfg.Snapshot.Backend, state.Len())
		if hasHistory {
			days, err := history.Days(ctx)
			if err != nil {
				return err
			}
			if len(days) > 0 {
				fmt.Fprintf(w, "history: %d days, %s to %s\n", len(days), days[0], days[len(days)-1])
			}
		}
		printPaths(w, state)
		return nil
	}

	day, err := simulate.ParseDate(date)
	if err != nil {
		return err
	}
	if !hasHistory {
		return fault.Preconditionf("snapshot", "per-day history needs the %s backend, configured backend is %s",
			config.BackendBadger, cfg.Snapshot.Backend)
	}
	key := day.Format(simulate.DateLayout)
	state, found, err := history.LoadDay(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return fault.Preconditionf("snapshot", "no snapshot saved for %s", key)
	}
	fmt.Fprintf(w, "snapshot %s: %d paths\n", key, state.Len())
	printPaths(w, state)
	return nil
}

func printPaths(w io.Writer, state structure.State) {
	for _, p := range state.Paths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repo", cfg.Repo.Path,
		"url", cfg.Repo.URL,
		"state_dir", cfg.Paths.StateDir,
		"snapshot", cfg.Snapshot.Backend,
		"drift_policy", cfg.Drift.Policy)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
