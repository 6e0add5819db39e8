// Package config provides configuration loading for go-nao.
//
// Values are layered, lowest precedence first: DefaultConfig, an optional
// YAML file, an optional .env file, then process environment variables.
// Command-line flags are applied last by cmd/nao.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default robot and session configuration.
const (
	DefaultRobotIP       = "127.0.0.1"
	DefaultRobotPort     = 9559
	DefaultBridgePath    = "/bridge"
	DefaultLanguage      = "es-CR"
	DefaultRobotLanguage = "Spanish"
	DefaultWakeWords     = "hola;okay;nao;"
	DefaultStopWords     = "adios;chao;apagar;"
	DefaultConfidence    = 25
	DefaultMaxTokens     = 85
	DefaultSilence       = 3 * time.Second
	DefaultPollInterval  = 250 * time.Millisecond
	DefaultModel         = "gpt-3.5-turbo-instruct"
	DefaultFallbackModel = "gemini-2.0-flash"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// DefaultSystemContext is the preamble placed before the conversation window.
const DefaultSystemContext = "\nContexto: Eres NAO, un robot asistente educativo. " +
	"Tu funcion es explicar temas complejos de forma clara y asistir en la educación. " +
	"Debes mantener las respuestas cortas, concisas y claras. Ten en cuenta que tu audiencia " +
	"pueden ser niños y adultos mayores, por lo que debes ser muy amable y entretenido para todos. " +
	"Responde utilizando lenguaje sencillo y cordial, como en una conversación, de forma amigable. " +
	"A continuación la conversación: "

// Config holds all configuration for a voice session.
type Config struct {
	// Robot bridge address.
	RobotIP    string `yaml:"robot_ip"`
	RobotPort  int    `yaml:"robot_port"`
	BridgePath string `yaml:"bridge_path"`

	// Language is the BCP-47 code used for transcription.
	Language string `yaml:"language"`
	// RobotLanguage is the name the robot's speech engine expects.
	RobotLanguage string `yaml:"robot_language"`

	WakeWords  []string `yaml:"wake_words"`
	StopWords  []string `yaml:"stop_words"`
	Confidence int      `yaml:"confidence"` // 0-100

	MaxTokens      int           `yaml:"max_tokens"`
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`

	// Completion collaborator.
	Model          string        `yaml:"model"`
	FallbackModel  string        `yaml:"fallback_model"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SystemContext  string        `yaml:"system_context"`

	// Scripted utterances.
	Greeting string `yaml:"greeting"`
	Farewell string `yaml:"farewell"`
	Apology  string `yaml:"apology"`

	// DashboardPort enables the web dashboard when non-empty.
	DashboardPort string `yaml:"dashboard_port"`
	LogLevel      string `yaml:"log_level"`

	// Credentials, normally from the environment.
	OpenAIKey         string `yaml:"-"`
	GoogleAPIKey      string `yaml:"-"`
	GoogleCredentials string `yaml:"-"` // path to a service-account JSON file
}

// DefaultConfig returns the Spanish-language classroom deployment defaults.
func DefaultConfig() Config {
	return Config{
		RobotIP:        DefaultRobotIP,
		RobotPort:      DefaultRobotPort,
		BridgePath:     DefaultBridgePath,
		Language:       DefaultLanguage,
		RobotLanguage:  DefaultRobotLanguage,
		WakeWords:      SplitWords(DefaultWakeWords),
		StopWords:      SplitWords(DefaultStopWords),
		Confidence:     DefaultConfidence,
		MaxTokens:      DefaultMaxTokens,
		SilenceTimeout: DefaultSilence,
		PollInterval:   DefaultPollInterval,
		Model:          DefaultModel,
		FallbackModel:  DefaultFallbackModel,
		OpenAIBaseURL:  DefaultOpenAIBaseURL,
		RequestTimeout: 30 * time.Second,
		SystemContext:  DefaultSystemContext,
		Greeting:       "Hola, soy NAO, tu asistente, pregúntame lo que quieras y te ayudaré.",
		Farewell:       "Adiós. Si quieres llamarme di: Hola Nao y te ayudaré.",
		Apology:        "Creo que no tengo respuesta para eso.",
		LogLevel:       "info",
	}
}

// Load builds a Config from defaults, the optional YAML file at path,
// the optional .env file at envFile, and the environment.
// Empty paths are skipped; a missing .env file is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := cfg.LoadEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays values from a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.WakeWords = normalizeWords(c.WakeWords)
	c.StopWords = normalizeWords(c.StopWords)
	return nil
}

// LoadEnv overlays values from environment variables.
func (c *Config) LoadEnv() error {
	if ip := os.Getenv("NAO_IP"); ip != "" {
		c.RobotIP = ip
	}
	if lang := os.Getenv("NAO_LANGUAGE"); lang != "" {
		c.Language = lang
	}
	if words := os.Getenv("NAO_WAKE_WORDS"); words != "" {
		c.WakeWords = SplitWords(words)
	}
	if words := os.Getenv("NAO_STOP_WORDS"); words != "" {
		c.StopWords = SplitWords(words)
	}
	if port := os.Getenv("NAO_DASHBOARD_PORT"); port != "" {
		c.DashboardPort = port
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		c.OpenAIBaseURL = base
	}

	var err error
	if c.RobotPort, err = envInt("NAO_PORT", c.RobotPort); err != nil {
		return err
	}
	if c.Confidence, err = envInt("NAO_CONFIDENCE", c.Confidence); err != nil {
		return err
	}
	if c.MaxTokens, err = envInt("NAO_MAX_TOKENS", c.MaxTokens); err != nil {
		return err
	}
	if v := os.Getenv("NAO_SILENCE_TIMEOUT"); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			return &ConfigError{Field: "SilenceTimeout", Message: fmt.Sprintf("NAO_SILENCE_TIMEOUT: %v", perr)}
		}
		c.SilenceTimeout = d
	}

	c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	c.GoogleCredentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	return nil
}

// Validate checks that required configuration is present.
// Every error it returns is fatal at startup.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.RobotIP) == "":
		return &ConfigError{Field: "RobotIP", Message: "robot address is required (NAO_IP)"}
	case c.RobotPort <= 0 || c.RobotPort > 65535:
		return &ConfigError{Field: "RobotPort", Message: fmt.Sprintf("robot port %d out of range", c.RobotPort)}
	case c.Confidence < 0 || c.Confidence > 100:
		return &ConfigError{Field: "Confidence", Message: fmt.Sprintf("confidence threshold %d must be between 0 and 100", c.Confidence)}
	case c.MaxTokens <= 0:
		return &ConfigError{Field: "MaxTokens", Message: "max response tokens must be positive"}
	case len(c.WakeWords) == 0:
		return &ConfigError{Field: "WakeWords", Message: "at least one wake phrase is required"}
	case len(c.StopWords) == 0:
		return &ConfigError{Field: "StopWords", Message: "at least one stop phrase is required"}
	case c.PollInterval <= 0:
		return &ConfigError{Field: "PollInterval", Message: "poll interval must be positive"}
	case c.OpenAIKey == "" && c.GoogleAPIKey == "":
		return &ConfigError{Field: "OpenAIKey", Message: "OPENAI_API_KEY (or GOOGLE_API_KEY for the fallback) environment variable is required"}
	case c.GoogleAPIKey == "" && c.GoogleCredentials == "":
		return &ConfigError{Field: "GoogleAPIKey", Message: "GOOGLE_API_KEY or GOOGLE_APPLICATION_CREDENTIALS is required for speech recognition"}
	}
	return nil
}

// BridgeURL returns the websocket URL of the robot bridge.
func (c *Config) BridgeURL() string {
	return fmt.Sprintf("ws://%s:%d%s", c.RobotIP, c.RobotPort, c.BridgePath)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Message
}

// SplitWords parses a ";"-separated phrase list, dropping empty entries.
func SplitWords(s string) []string {
	return normalizeWords(strings.Split(s, ";"))
}

func normalizeWords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, w := range in {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, &ConfigError{Field: key, Message: fmt.Sprintf("%s: %q is not a number", key, v)}
	}
	return n, nil
}
