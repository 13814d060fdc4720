package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for linechat.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	LINE      LINEConfig      `json:"line" yaml:"line"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Vision    VisionConfig    `json:"vision" yaml:"vision"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Assistant AssistantConfig `json:"assistant" yaml:"assistant"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel"`   // debug | info | warn | error
	LogFormat string `json:"logFormat" yaml:"logFormat"` // text | json
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	Path string `json:"path" yaml:"path"` // webhook callback path
}

type LINEConfig struct {
	ChannelSecret      string `json:"channelSecret" yaml:"channelSecret"`
	ChannelAccessToken string `json:"channelAccessToken" yaml:"channelAccessToken"`
	APIBase            string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
}

type OpenAIConfig struct {
	APIKey     string `json:"apiKey" yaml:"apiKey"`
	APIBase    string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	Model      string `json:"model" yaml:"model"`
	ImageModel string `json:"imageModel" yaml:"imageModel"`
	ImageSize  string `json:"imageSize" yaml:"imageSize"`
}

type VisionConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
}

type HistoryConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite | postgres
	DSN    string `json:"dsn" yaml:"dsn"`
	Table  string `json:"table" yaml:"table"`
	// Retention is a Go duration; turns older than it are removed by
	// "history prune". Empty keeps everything.
	Retention string `json:"retention,omitempty" yaml:"retention,omitempty"`
}

type AssistantConfig struct {
	Persona            string   `json:"persona" yaml:"persona"`
	FallbackText       string   `json:"fallbackText" yaml:"fallbackText"`
	WorkingText        string   `json:"workingText,omitempty" yaml:"workingText,omitempty"` // pushed before image generation
	DoneText           string   `json:"doneText,omitempty" yaml:"doneText,omitempty"`       // pushed after image generation
	DefaultImagePrompt string   `json:"defaultImagePrompt,omitempty" yaml:"defaultImagePrompt,omitempty"`
	ImageTriggers      []string `json:"imageTriggers,omitempty" yaml:"imageTriggers,omitempty"` // extra regexps, tried after the built-in ones
}

type PipelineConfig struct {
	SerializePerSender bool `json:"serializePerSender" yaml:"serializePerSender"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.linechat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".linechat"
	}
	return filepath.Join(home, ".linechat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads path, expands environment variables and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := parse(path, true)
	if err != nil {
		return nil, err
	}

	if cfg.History.Driver == "sqlite" {
		cfg.History.DSN = ExpandPath(cfg.History.DSN)
	}
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadRaw reads path without expanding or validating anything, so that a
// config edited and saved back keeps its ${VAR} placeholders.
func LoadRaw(path string) (*Config, error) {
	return parse(path, false)
}

func parse(path string, expandEnv bool) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	if expandEnv {
		data = []byte(ExpandEnvVars(string(data)))
	}

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset VAR without default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

var (
	tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	validImageSizes  = []string{"256x256", "512x512", "1024x1024", "1792x1024", "1024x1792", "1536x1024", "1024x1536"}
)

// Validate checks that the config has valid values and reports every problem found.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		errs = append(errs, "server.path must start with /")
	}

	switch cfg.History.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "history.driver must be one of: sqlite, postgres")
	}
	if cfg.History.DSN == "" {
		errs = append(errs, "history.dsn is required")
	}
	if !tableNamePattern.MatchString(cfg.History.Table) {
		errs = append(errs, fmt.Sprintf("history.table %q is not a valid table name", cfg.History.Table))
	}
	if cfg.History.Retention != "" {
		if d, err := time.ParseDuration(cfg.History.Retention); err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("history.retention %q must be a positive duration", cfg.History.Retention))
		}
	}

	if strings.TrimSpace(cfg.Assistant.Persona) == "" {
		errs = append(errs, "assistant.persona is required")
	}
	if strings.TrimSpace(cfg.Assistant.FallbackText) == "" {
		errs = append(errs, "assistant.fallbackText is required")
	}
	for i, pattern := range cfg.Assistant.ImageTriggers {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Sprintf("assistant.imageTriggers[%d]: %v", i, err))
		}
	}

	if cfg.OpenAI.Model == "" {
		errs = append(errs, "openai.model is required")
	}
	sizeOK := false
	for _, s := range validImageSizes {
		if cfg.OpenAI.ImageSize == s {
			sizeOK = true
			break
		}
	}
	if !sizeOK {
		errs = append(errs, fmt.Sprintf("openai.imageSize must be one of: %s", strings.Join(validImageSizes, ", ")))
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
