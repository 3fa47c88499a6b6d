package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains input, output, and log locations.
type Paths struct {
	Input     string `toml:"input"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
}

// Source describes how raw input objects map onto record fields.
type Source struct {
	Format           string `toml:"format"`
	IDField          string `toml:"id_field"`
	DescriptionField string `toml:"description_field"`
	ContentField     string `toml:"content_field"`
	LikesField       string `toml:"likes_field"`
}

// Pipeline contains worker pool and stage selection settings.
type Pipeline struct {
	Workers            int      `toml:"workers"`
	BufferFactor       int      `toml:"buffer_factor"`
	GracePeriodSeconds int      `toml:"grace_period_seconds"`
	Stages             []string `toml:"stages"`
	MandatoryStages    []string `toml:"mandatory_stages"`
	Resume             bool     `toml:"resume"`
}

// Stages contains the retry policy the engine applies to retryable stage results.
type Stages struct {
	RetryAttempts    int `toml:"retry_attempts"`
	RetryBaseDelayMS int `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS  int `toml:"retry_max_delay_ms"`
}

// Filter contains thresholds for the local filter stages.
type Filter struct {
	RequiredFields       []string `toml:"required_fields"`
	MinContentLength     int      `toml:"min_content_length"`
	MinDescriptionLength int      `toml:"min_description_length"`
	MinWordCount         int      `toml:"min_word_count"`
	MinLikes             int      `toml:"min_likes"`
	PlaceholderPatterns  []string `toml:"placeholder_patterns"`
	AllowedTypes         []string `toml:"allowed_types"`
}

// Transform contains settings for the content-rewriting stages.
type Transform struct {
	TargetLanguage            string  `toml:"target_language"`
	AssumeASCIIEnglish        bool    `toml:"assume_ascii_english"`
	RefinePresentation        bool    `toml:"refine_presentation"`
	DescriptionMatchThreshold float64 `toml:"description_match_threshold"`
}

// Judge contains connection and retry settings for the judgment service.
type Judge struct {
	Provider          string  `toml:"provider"`
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	Referer           string  `toml:"referer"`
	Title             string  `toml:"title"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	Temperature       float64 `toml:"temperature"`
	MaxTokens         int     `toml:"max_tokens"`
	MaxRetryAttempts  int     `toml:"max_retry_attempts"`
	RetryBaseDelayMS  int     `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS   int     `toml:"retry_max_delay_ms"`
	RetryJitter       float64 `toml:"retry_jitter"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Similarity contains near-duplicate detection settings.
type Similarity struct {
	Threshold   float64 `toml:"threshold"`
	ShingleSize int     `toml:"shingle_size"`
}

// QualityProfile is a named set of sub-metric weights plus an acceptance threshold.
type QualityProfile struct {
	Threshold float64            `toml:"threshold" yaml:"threshold"`
	Weights   map[string]float64 `toml:"weights" yaml:"weights"`
}

// Quality selects the active scoring profile.
type Quality struct {
	Profile      string                    `toml:"profile"`
	Threshold    float64                   `toml:"threshold"`
	ProfilesFile string                    `toml:"profiles_file"`
	Profiles     map[string]QualityProfile `toml:"profiles"`
}

// Checkpoint contains progress persistence settings.
type Checkpoint struct {
	Backend              string `toml:"backend"`
	FlushEvery           int    `toml:"flush_every"`
	FlushIntervalSeconds int    `toml:"flush_interval_seconds"`
}

// Sink contains output artifact settings.
type Sink struct {
	Format       string `toml:"format"`
	WriteRejects bool   `toml:"write_rejects"`
}

// API contains the optional status server settings.
type API struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for curator.
//
// Configuration sections by subsystem:
//   - Paths: input file, output directory, logs
//   - Source: input field mapping
//   - Pipeline: workers, backpressure, stage order, resume
//   - Stages: engine-level retry policy for retryable stage results
//   - Filter, Transform, Quality: stage parameters
//   - Judge: judgment service connection and retry policy
//   - Similarity: near-duplicate threshold
//   - Checkpoint, Sink: persistence
//   - API: status/metrics server
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Source     Source     `toml:"source"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Stages     Stages     `toml:"stages"`
	Filter     Filter     `toml:"filter"`
	Transform  Transform  `toml:"transform"`
	Judge      Judge      `toml:"judge"`
	Similarity Similarity `toml:"similarity"`
	Quality    Quality    `toml:"quality"`
	Checkpoint Checkpoint `toml:"checkpoint"`
	Sink       Sink       `toml:"sink"`
	API        API        `toml:"api"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/curator/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("curator.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the output and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CheckpointPath returns the checkpoint location for the configured backend.
func (c *Config) CheckpointPath() string {
	name := "checkpoint.json"
	if c.Checkpoint.Backend == CheckpointBackendSQLite {
		name = "checkpoint.db"
	}
	return filepath.Join(c.Paths.OutputDir, name)
}

// AcceptedPath returns the accepted-records artifact path.
func (c *Config) AcceptedPath() string {
	return filepath.Join(c.Paths.OutputDir, "accepted."+c.Sink.Format)
}

// RejectedPath returns the rejected-records audit path.
func (c *Config) RejectedPath() string {
	return filepath.Join(c.Paths.OutputDir, "rejected."+c.Sink.Format)
}

// GracePeriod returns how long in-flight records may finish after shutdown is requested.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Pipeline.GracePeriodSeconds) * time.Second
}

// FlushInterval returns the maximum time between checkpoint flushes.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Checkpoint.FlushIntervalSeconds) * time.Second
}

// IsMandatory reports whether a stage failure must abort the run.
func (c *Config) IsMandatory(stage string) bool {
	for _, name := range c.Pipeline.MandatoryStages {
		if name == stage {
			return true
		}
	}
	return false
}

// StageEnabled reports whether a stage appears in the configured order.
func (c *Config) StageEnabled(stage string) bool {
	for _, name := range c.Pipeline.Stages {
		if name == stage {
			return true
		}
	}
	return false
}

// ActiveProfile returns the selected quality profile with any threshold override applied.
func (c *Config) ActiveProfile() (string, QualityProfile, error) {
	name := c.Quality.Profile
	profile, ok := c.Quality.Profiles[name]
	if !ok {
		return name, QualityProfile{}, fmt.Errorf("quality.profile %q is not defined", name)
	}
	if c.Quality.Threshold > 0 {
		profile.Threshold = c.Quality.Threshold
	}
	return name, profile, nil
}

// UsesJudge reports whether any enabled stage calls the judgment service.
func (c *Config) UsesJudge() bool {
	for _, name := range c.Pipeline.Stages {
		switch name {
		case "language", "description", "symbols", "quality":
			return true
		case "presentation":
			if c.Transform.RefinePresentation {
				return true
			}
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML, with the API key redacted.
func (c *Config) Encode() ([]byte, error) {
	clone := *c
	if clone.Judge.APIKey != "" {
		clone.Judge.APIKey = "<redacted>"
	}
	return toml.Marshal(clone)
}
