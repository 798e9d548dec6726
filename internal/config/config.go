package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/gitcom/internal/commitplan"
	"github.com/schaermu/gitcom/internal/drift"
	"github.com/schaermu/gitcom/internal/layout"
	"github.com/schaermu/gitcom/internal/paradox"
	"github.com/schaermu/gitcom/internal/snapshot"
	"github.com/schaermu/gitcom/internal/structure"
)

// SnapshotBackend selects where the structural snapshot is persisted
type SnapshotBackend string

const (
	BackendFile   SnapshotBackend = "file"
	BackendS3     SnapshotBackend = "s3"
	BackendBadger SnapshotBackend = "badger"
)

// Config represents the complete gitcom configuration
type Config struct {
	Repo     RepoConfig     `yaml:"repo"`
	Auth     AuthConfig     `yaml:"auth"`
	Identity IdentityConfig `yaml:"identity"`
	Paths    PathsConfig    `yaml:"paths"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Layout   LayoutConfig   `yaml:"layout"`
	Rules    RulesConfig    `yaml:"rules"`
	Commits  CommitsConfig  `yaml:"commits"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Drift    DriftConfig    `yaml:"drift"`
	Messages MessagesConfig `yaml:"messages"`
}

// RepoConfig configures the target repository
type RepoConfig struct {
	// Path is the local working tree commits are written to.
	Path string `yaml:"path" validate:"required"`
	// URL is cloned into Path when Path has no repository yet.
	URL    string `yaml:"url"`
	Remote string `yaml:"remote"`
	Branch string `yaml:"branch"`
	Push   bool   `yaml:"push"`
}

// AuthConfig configures Git authentication for clone and push
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// IdentityConfig configures the forged author
type IdentityConfig struct {
	Name          string   `yaml:"name"`
	Email         string   `yaml:"email" validate:"omitempty,email"`
	AllowedEmails []string `yaml:"allowed_emails" validate:"dive,email"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	StateDir string `yaml:"state_dir" validate:"required"`
}

// SnapshotConfig configures snapshot persistence
type SnapshotConfig struct {
	Backend SnapshotBackend `yaml:"backend" validate:"oneof=file s3 badger"`
	S3      S3Config        `yaml:"s3"`
}

// S3Config locates the snapshot in an S3-compatible bucket
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LayoutConfig configures the action generator
type LayoutConfig struct {
	MinActions    int            `yaml:"min_actions" validate:"min=1"`
	MaxActions    int            `yaml:"max_actions" validate:"gtefield=MinActions"`
	Weights       map[string]int `yaml:"weights" validate:"dive,min=0"`
	Directories   []string       `yaml:"directories" validate:"min=1,dive,required"`
	SparseBelow   int            `yaml:"sparse_below" validate:"min=0"`
	AttemptFactor int            `yaml:"attempt_factor" validate:"min=1"`
}

// RulesConfig configures the feasibility rules
type RulesConfig struct {
	Protected             []string `yaml:"protected"`
	EditRequiresExistence bool     `yaml:"edit_requires_existence"`
}

// CommitsConfig configures the day decisions and the commit planner
type CommitsConfig struct {
	WorkProbability        float64 `yaml:"work_probability" validate:"min=0,max=1"`
	MultiCommitProbability float64 `yaml:"multi_commit_probability" validate:"min=0,max=1"`
	ForceWork              bool    `yaml:"force_work"`
	ForceMulti             bool    `yaml:"force_multi"`
	ThresholdMin           int     `yaml:"threshold_min" validate:"min=1"`
	ThresholdMax           int     `yaml:"threshold_max" validate:"gtefield=ThresholdMin"`
	BaseProbability        float64 `yaml:"base_probability" validate:"min=0,max=1"`
	StepProbability        float64 `yaml:"step_probability" validate:"min=0,max=1"`
	MaxProbability         float64 `yaml:"max_probability" validate:"min=0,max=1"`
	MinSplits              int     `yaml:"min_splits" validate:"min=2"`
}

// ScheduleConfig configures commit timestamps within a day
type ScheduleConfig struct {
	Timezone  string        `yaml:"timezone"`
	StartTime string        `yaml:"start_time"`
	Spacing   time.Duration `yaml:"spacing" validate:"gt=0"`
	Jitter    time.Duration `yaml:"jitter" validate:"min=0,ltfield=Spacing"`
}

// DriftConfig configures drift handling before a run
type DriftConfig struct {
	Policy drift.Policy `yaml:"policy" validate:"oneof=ignore warn reconcile fail"`
}

// MessagesConfig configures commit message generation
type MessagesConfig struct {
	LexiconFile   string `yaml:"lexicon_file"`
	RecentWindow  int    `yaml:"recent_window" validate:"min=0"`
	BootstrapDays int    `yaml:"bootstrap_days" validate:"min=0"`
}

// Default returns a configuration with every knob at its stock value.
// Required fields (repo.path, paths.state_dir) stay empty.
func Default() Config {
	lc := layout.DefaultConfig()
	weights := make(map[string]int, len(lc.Weights))
	for k, w := range lc.Weights {
		weights[string(k)] = w
	}
	pc := commitplan.DefaultConfig()

	return Config{
		Repo:     RepoConfig{Remote: "origin"},
		Snapshot: SnapshotConfig{Backend: BackendFile},
		Layout: LayoutConfig{
			MinActions:    lc.MinActions,
			MaxActions:    lc.MaxActions,
			Weights:       weights,
			Directories:   lc.Directories,
			SparseBelow:   lc.SparseBelow,
			AttemptFactor: lc.AttemptFactor,
		},
		Rules: RulesConfig{
			Protected:             paradox.DefaultProtected,
			EditRequiresExistence: true,
		},
		Commits: CommitsConfig{
			WorkProbability:        0.85,
			MultiCommitProbability: 0.35,
			ThresholdMin:           pc.ThresholdMin,
			ThresholdMax:           pc.ThresholdMax,
			BaseProbability:        pc.BaseProb,
			StepProbability:        pc.StepProb,
			MaxProbability:         pc.MaxProb,
			MinSplits:              pc.MinSplits,
		},
		Schedule: ScheduleConfig{
			Timezone:  "UTC",
			StartTime: "10:30",
			Spacing:   17 * time.Minute,
			Jitter:    5 * time.Minute,
		},
		Drift:    DriftConfig{Policy: drift.PolicyReconcile},
		Messages: MessagesConfig{RecentWindow: 16, BootstrapDays: 3},
	}
}

// DefaultPath returns $HOME/.config/gitcom/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "gitcom", "config.yaml"), nil
}

// Load reads and parses the configuration file. A .env file next to it, if
// present, is loaded into the environment first so its variables can be
// referenced from the YAML.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unset keys keep their defaults
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.Path = os.ExpandEnv(c.Repo.Path)
	c.Repo.URL = os.ExpandEnv(c.Repo.URL)
	c.Repo.Branch = os.ExpandEnv(c.Repo.Branch)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	c.Identity.Name = os.ExpandEnv(c.Identity.Name)
	c.Identity.Email = os.ExpandEnv(c.Identity.Email)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Snapshot.S3.Endpoint = os.ExpandEnv(c.Snapshot.S3.Endpoint)
	c.Snapshot.S3.AccessKey = os.ExpandEnv(c.Snapshot.S3.AccessKey)
	c.Snapshot.S3.SecretKey = os.ExpandEnv(c.Snapshot.S3.SecretKey)
	c.Snapshot.S3.Bucket = os.ExpandEnv(c.Snapshot.S3.Bucket)
	c.Snapshot.S3.Prefix = os.ExpandEnv(c.Snapshot.S3.Prefix)
	c.Messages.LexiconFile = os.ExpandEnv(c.Messages.LexiconFile)
}

// applyDefaults fills in string fields that were explicitly blanked.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Repo.Remote == "" {
		c.Repo.Remote = d.Repo.Remote
	}
	if c.Snapshot.Backend == "" {
		c.Snapshot.Backend = d.Snapshot.Backend
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = d.Schedule.Timezone
	}
	if c.Schedule.StartTime == "" {
		c.Schedule.StartTime = d.Schedule.StartTime
	}
	if c.Drift.Policy == "" {
		c.Drift.Policy = d.Drift.Policy
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q check (value %v)", fieldName(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return err
	}

	// Ensure paths are absolute
	if !filepath.IsAbs(c.Repo.Path) {
		return fmt.Errorf("repo.path must be an absolute path: %s", c.Repo.Path)
	}
	if !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}

	for k := range c.Layout.Weights {
		if !structure.Kind(k).Valid() {
			return fmt.Errorf("layout.weights: unknown action kind %q", k)
		}
	}
	total := 0
	for _, w := range c.Layout.Weights {
		total += w
	}
	if total == 0 {
		return fmt.Errorf("layout.weights: at least one weight must be positive")
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	start, err := c.StartOffset()
	if err != nil {
		return err
	}
	// The latest possible commit of a day must stay on that day so commit
	// timestamps keep increasing across days.
	last := start + time.Duration(c.Layout.MaxActions-1)*c.Schedule.Spacing + c.Schedule.Jitter
	if last >= 24*time.Hour {
		return fmt.Errorf("schedule: %d commits starting at %s spaced %s do not fit in one day",
			c.Layout.MaxActions, c.Schedule.StartTime, c.Schedule.Spacing)
	}

	if c.Snapshot.Backend == BackendS3 {
		s3 := c.Snapshot.S3
		if s3.Endpoint == "" || s3.Bucket == "" {
			return fmt.Errorf("snapshot.s3.endpoint and snapshot.s3.bucket are required for the s3 backend")
		}
		if s3.AccessKey == "" || s3.SecretKey == "" {
			return fmt.Errorf("snapshot.s3.access_key and snapshot.s3.secret_key are required for the s3 backend")
		}
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth and a URL are configured, the scheme must match
	if c.Repo.URL != "" {
		if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
			return fmt.Errorf("auth.ssh_key_file is set but repo.url does not use an SSH scheme (git@ or ssh://)")
		}
		if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
			return fmt.Errorf("auth.https_token_file is set but repo.url does not use HTTPS scheme")
		}
	}

	return nil
}

// fieldName turns a validator namespace like Config.Layout.MinActions into
// layout.MinActions.
func fieldName(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	if section, field, ok := strings.Cut(rest, "."); ok {
		return strings.ToLower(section) + "." + field
	}
	return rest
}

// Location returns the schedule time zone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// StartOffset returns schedule.start_time as an offset from midnight
func (c *Config) StartOffset() (time.Duration, error) {
	t, err := time.Parse("15:04", c.Schedule.StartTime)
	if err != nil {
		return 0, fmt.Errorf("schedule.start_time must be HH:MM: %w", err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// SnapshotPath returns the path of the file snapshot
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Paths.StateDir, snapshot.FileName)
}

// SnapshotDBPath returns the directory of the badger snapshot database
func (c *Config) SnapshotDBPath() string {
	return filepath.Join(c.Paths.StateDir, "snapshot.badger")
}

// StoriesDir returns the directory run stories are written to
func (c *Config) StoriesDir() string {
	return filepath.Join(c.Paths.StateDir, "stories")
}

// GeneratorConfig converts the layout section
func (c *Config) GeneratorConfig() layout.Config {
	weights := make(map[structure.Kind]int, len(c.Layout.Weights))
	for k, w := range c.Layout.Weights {
		weights[structure.Kind(k)] = w
	}
	return layout.Config{
		MinActions:    c.Layout.MinActions,
		MaxActions:    c.Layout.MaxActions,
		Weights:       weights,
		Directories:   c.Layout.Directories,
		SparseBelow:   c.Layout.SparseBelow,
		AttemptFactor: c.Layout.AttemptFactor,
	}
}

// PlannerConfig converts the commit planner knobs
func (c *Config) PlannerConfig() commitplan.Config {
	return commitplan.Config{
		ThresholdMin: c.Commits.ThresholdMin,
		ThresholdMax: c.Commits.ThresholdMax,
		BaseProb:     c.Commits.BaseProbability,
		StepProb:     c.Commits.StepProbability,
		MaxProb:      c.Commits.MaxProbability,
		MinSplits:    c.Commits.MinSplits,
	}
}

// ParadoxRules converts the rules section
func (c *Config) ParadoxRules() paradox.Rules {
	return paradox.Rules{
		Protected:             c.Rules.Protected,
		EditRequiresExistence: c.Rules.EditRequiresExistence,
	}
}

// SnapshotS3 converts the s3 section
func (c *Config) SnapshotS3() snapshot.S3Config {
	s := c.Snapshot.S3
	return snapshot.S3Config{
		Endpoint:  s.Endpoint,
		Region:    s.Region,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Bucket:    s.Bucket,
		Prefix:    s.Prefix,
		UseSSL:    s.UseSSL,
	}
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the repo URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Repo.URL, "https://")
}

// IsSSH returns true if the repo URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Repo.URL, "git@") || strings.HasPrefix(c.Repo.URL, "ssh://")
}
