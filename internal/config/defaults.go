package config

const (
	defaultOutputDir                 = "~/.local/share/curator/output"
	defaultLogDir                    = "~/.local/share/curator/logs"
	defaultSourceFormat              = "auto"
	defaultIDField                   = "id"
	defaultDescriptionField          = "description"
	defaultContentField              = "source_code"
	defaultLikesField                = "likes_count"
	defaultWorkers                   = 4
	defaultBufferFactor              = 2
	defaultGracePeriodSeconds        = 30
	defaultStageRetryAttempts        = 2
	defaultStageRetryBaseDelayMS     = 500
	defaultStageRetryMaxDelayMS      = 5000
	defaultMinContentLength          = 50
	defaultMinDescriptionLength      = 30
	defaultMinWordCount              = 100
	defaultMinLikes                  = 100
	defaultTargetLanguage            = "en"
	defaultDescriptionMatchThreshold = 6.0
	defaultJudgeProvider             = ProviderOpenAICompatible
	defaultJudgeBaseURL              = "https://openrouter.ai/api/v1/chat/completions"
	defaultJudgeModel                = "google/gemini-2.5-flash"
	defaultJudgeReferer              = "https://github.com/curator/curator"
	defaultJudgeTitle                = "Curator"
	defaultJudgeTimeoutSeconds       = 60
	defaultJudgeTemperature          = 0.1
	defaultJudgeMaxTokens            = 2048
	defaultJudgeRetryAttempts        = 3
	defaultJudgeRetryBaseDelayMS     = 1000
	defaultJudgeRetryMaxDelayMS      = 10000
	defaultJudgeRetryJitter          = 0.1
	defaultSimilarityThreshold       = 0.85
	defaultShingleSize               = 3
	defaultQualityProfile            = "default"
	defaultCheckpointBackend         = CheckpointBackendFile
	defaultCheckpointFlushEvery      = 25
	defaultCheckpointFlushInterval   = 10
	defaultSinkFormat                = SinkFormatJSONL
	defaultAPIBind                   = "127.0.0.1:7490"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// Judge providers.
const (
	ProviderOpenAICompatible = "openai-compatible"
	ProviderOpenAI           = "openai"
	ProviderAnthropic        = "anthropic"
	ProviderGemini           = "gemini"
	ProviderNone             = "none"
)

// Checkpoint backends and sink formats.
const (
	CheckpointBackendFile   = "file"
	CheckpointBackendSQLite = "sqlite"
	SinkFormatJSONL         = "jsonl"
	SinkFormatMsgpack       = "msgpack"
)

// DefaultStages is the stage order used when the config does not list one.
// The word-count filter and symbols transform are available but disabled by
// default.
var DefaultStages = []string{
	"required-fields",
	"min-length",
	"min-likes",
	"placeholder",
	"classify",
	"markup",
	"language",
	"presentation",
	"description",
	"quality",
}

var defaultPlaceholderPatterns = []string{
	"lorem ipsum",
	"todo: add description",
	"no description",
	"coming soon",
	"your code here",
	"placeholder",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Source: Source{
			Format:           defaultSourceFormat,
			IDField:          defaultIDField,
			DescriptionField: defaultDescriptionField,
			ContentField:     defaultContentField,
			LikesField:       defaultLikesField,
		},
		Pipeline: Pipeline{
			Workers:            defaultWorkers,
			BufferFactor:       defaultBufferFactor,
			GracePeriodSeconds: defaultGracePeriodSeconds,
			Stages:             append([]string(nil), DefaultStages...),
			MandatoryStages:    []string{"quality"},
		},
		Stages: Stages{
			RetryAttempts:    defaultStageRetryAttempts,
			RetryBaseDelayMS: defaultStageRetryBaseDelayMS,
			RetryMaxDelayMS:  defaultStageRetryMaxDelayMS,
		},
		Filter: Filter{
			RequiredFields:       []string{defaultIDField, defaultDescriptionField, defaultContentField},
			MinContentLength:     defaultMinContentLength,
			MinDescriptionLength: defaultMinDescriptionLength,
			MinWordCount:         defaultMinWordCount,
			MinLikes:             defaultMinLikes,
			PlaceholderPatterns:  append([]string(nil), defaultPlaceholderPatterns...),
			AllowedTypes:         []string{"strategy"},
		},
		Transform: Transform{
			TargetLanguage:            defaultTargetLanguage,
			AssumeASCIIEnglish:        true,
			DescriptionMatchThreshold: defaultDescriptionMatchThreshold,
		},
		Judge: Judge{
			Provider:          defaultJudgeProvider,
			Model:             defaultJudgeModel,
			Referer:           defaultJudgeReferer,
			Title:             defaultJudgeTitle,
			TimeoutSeconds:    defaultJudgeTimeoutSeconds,
			Temperature:       defaultJudgeTemperature,
			MaxTokens:         defaultJudgeMaxTokens,
			MaxRetryAttempts:  defaultJudgeRetryAttempts,
			RetryBaseDelayMS:  defaultJudgeRetryBaseDelayMS,
			RetryMaxDelayMS:   defaultJudgeRetryMaxDelayMS,
			RetryJitter:       defaultJudgeRetryJitter,
			RequestsPerSecond: 0,
		},
		Similarity: Similarity{
			Threshold:   defaultSimilarityThreshold,
			ShingleSize: defaultShingleSize,
		},
		Quality: Quality{
			Profile:  defaultQualityProfile,
			Profiles: builtinProfiles(),
		},
		Checkpoint: Checkpoint{
			Backend:              defaultCheckpointBackend,
			FlushEvery:           defaultCheckpointFlushEvery,
			FlushIntervalSeconds: defaultCheckpointFlushInterval,
		},
		Sink: Sink{
			Format:       defaultSinkFormat,
			WriteRejects: true,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// builtinProfiles are always available; config files may override them by name.
func builtinProfiles() map[string]QualityProfile {
	return map[string]QualityProfile{
		"default": {
			Threshold: 7.0,
			Weights: map[string]float64{
				"match":             0.25,
				"detail":            0.15,
				"clarity":           0.15,
				"code_quality":      0.25,
				"educational_value": 0.10,
				"structure":         0.05,
				"lexical_match":     0.05,
			},
		},
		"lenient": {
			Threshold: 5.5,
			Weights: map[string]float64{
				"match":        0.30,
				"clarity":      0.20,
				"code_quality": 0.40,
				"structure":    0.10,
			},
		},
		"strict": {
			Threshold: 8.0,
			Weights: map[string]float64{
				"match":             0.25,
				"detail":            0.20,
				"clarity":           0.15,
				"code_quality":      0.25,
				"educational_value": 0.15,
			},
		},
	}
}
