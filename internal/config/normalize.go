package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSource()
	c.normalizePipeline()
	c.normalizeJudge()
	if err := c.normalizeQuality(); err != nil {
		return err
	}
	c.normalizeOutputs()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.Input, err = expandPath(strings.TrimSpace(c.Paths.Input)); err != nil {
		return fmt.Errorf("paths.input: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSource() {
	c.Source.Format = strings.ToLower(strings.TrimSpace(c.Source.Format))
	if c.Source.Format == "" {
		c.Source.Format = defaultSourceFormat
	}
	c.Source.IDField = trimOr(c.Source.IDField, defaultIDField)
	c.Source.DescriptionField = trimOr(c.Source.DescriptionField, defaultDescriptionField)
	c.Source.ContentField = trimOr(c.Source.ContentField, defaultContentField)
	c.Source.LikesField = trimOr(c.Source.LikesField, defaultLikesField)
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Stages = normalizeNames(c.Pipeline.Stages)
	if len(c.Pipeline.Stages) == 0 {
		c.Pipeline.Stages = append([]string(nil), DefaultStages...)
	}
	c.Pipeline.MandatoryStages = normalizeNames(c.Pipeline.MandatoryStages)
	c.Filter.RequiredFields = normalizeNames(c.Filter.RequiredFields)
	c.Filter.AllowedTypes = normalizeNames(c.Filter.AllowedTypes)
	if len(c.Filter.AllowedTypes) == 0 {
		c.Filter.AllowedTypes = []string{"strategy"}
	}
	c.Transform.TargetLanguage = trimOr(c.Transform.TargetLanguage, defaultTargetLanguage)
}

func (c *Config) normalizeJudge() {
	c.Judge.Provider = strings.ToLower(strings.TrimSpace(c.Judge.Provider))
	if c.Judge.Provider == "" {
		c.Judge.Provider = defaultJudgeProvider
	}
	c.Judge.APIKey = strings.TrimSpace(c.Judge.APIKey)
	if c.Judge.APIKey == "" {
		for _, name := range judgeKeyEnv(c.Judge.Provider) {
			if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
				c.Judge.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
	c.Judge.BaseURL = strings.TrimSpace(c.Judge.BaseURL)
	if c.Judge.Provider == ProviderOpenAICompatible && c.Judge.BaseURL == "" {
		c.Judge.BaseURL = defaultJudgeBaseURL
	}
	c.Judge.Model = strings.TrimSpace(c.Judge.Model)
	c.Judge.Referer = strings.TrimSpace(c.Judge.Referer)
	c.Judge.Title = strings.TrimSpace(c.Judge.Title)
}

// judgeKeyEnv lists the environment variables consulted for the judge API key,
// most specific first.
func judgeKeyEnv(provider string) []string {
	names := []string{"CURATOR_JUDGE_API_KEY"}
	switch provider {
	case ProviderOpenAICompatible:
		names = append(names, "OPENROUTER_API_KEY", "OPENAI_API_KEY")
	case ProviderOpenAI:
		names = append(names, "OPENAI_API_KEY")
	case ProviderAnthropic:
		names = append(names, "ANTHROPIC_API_KEY")
	case ProviderGemini:
		names = append(names, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	}
	return names
}

func (c *Config) normalizeQuality() error {
	c.Quality.Profile = strings.ToLower(strings.TrimSpace(c.Quality.Profile))
	if c.Quality.Profile == "" {
		c.Quality.Profile = defaultQualityProfile
	}
	merged := builtinProfiles()
	for name, profile := range c.Quality.Profiles {
		merged[strings.ToLower(strings.TrimSpace(name))] = profile
	}
	c.Quality.ProfilesFile = strings.TrimSpace(c.Quality.ProfilesFile)
	if c.Quality.ProfilesFile != "" {
		path, err := expandPath(c.Quality.ProfilesFile)
		if err != nil {
			return fmt.Errorf("quality.profiles_file: %w", err)
		}
		c.Quality.ProfilesFile = path
		fromFile, err := LoadProfiles(path)
		if err != nil {
			return err
		}
		for name, profile := range fromFile {
			merged[name] = profile
		}
	}
	c.Quality.Profiles = merged
	return nil
}

func (c *Config) normalizeOutputs() {
	c.Checkpoint.Backend = strings.ToLower(strings.TrimSpace(c.Checkpoint.Backend))
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = defaultCheckpointBackend
	}
	c.Sink.Format = strings.ToLower(strings.TrimSpace(c.Sink.Format))
	if c.Sink.Format == "" {
		c.Sink.Format = defaultSinkFormat
	}
	c.API.Bind = trimOr(c.API.Bind, defaultAPIBind)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeNames(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(value)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func trimOr(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
