// Package config handles maxd configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/maxd/config.yaml, /etc/maxd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "maxd", "config.yaml"))
	}

	paths = append(paths, "/etc/maxd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all maxd configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Brain    BrainConfig    `yaml:"brain"`
	Thought  ThoughtConfig  `yaml:"thought"`
	FreeTalk FreeTalkConfig `yaml:"free_talk"`
	Sentinel SentinelConfig `yaml:"sentinel"`
	Heal     HealConfig     `yaml:"heal"`
	Speech   SpeechConfig   `yaml:"speech"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Listen   ListenConfig   `yaml:"listen"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
}

// LLMConfig selects and configures the reasoning backend.
type LLMConfig struct {
	// Backend is one of "ollama", "openai", "gemini".
	Backend string       `yaml:"backend"`
	Ollama  OllamaConfig `yaml:"ollama"`
	OpenAI  OpenAIConfig `yaml:"openai"`
	Gemini  GeminiConfig `yaml:"gemini"`
}

// OllamaConfig defines the local Ollama backend.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// OpenAIConfig defines the OpenAI backend.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// GeminiConfig defines the Google Gemini backend.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// BrainConfig tunes the orchestration loop.
type BrainConfig struct {
	// MaxHistory is the number of conversation exchanges retained;
	// the history holds at most MaxHistory*2 messages.
	MaxHistory int `yaml:"max_history"`
	// MaxToolRounds caps skill-invocation rounds per turn. This is the
	// sole livelock guard for the tool loop.
	MaxToolRounds int    `yaml:"max_tool_rounds"`
	SystemPrompt  string `yaml:"system_prompt"`
}

// ThoughtConfig tunes the autonomous thought cycle.
type ThoughtConfig struct {
	Enabled     bool `yaml:"enabled"`
	IntervalSec int  `yaml:"interval_sec"`
}

// FreeTalkConfig tunes the autonomous speech scheduler.
type FreeTalkConfig struct {
	Enabled        bool `yaml:"enabled"`
	MinIntervalSec int  `yaml:"min_interval_sec"`
}

// SentinelConfig tunes the background producers.
type SentinelConfig struct {
	Camera          CameraConfig `yaml:"camera"`
	Detect          DetectConfig `yaml:"detect"`
	TelemetrySec    int          `yaml:"telemetry_sec"`
	USBSec          int          `yaml:"usb_sec"`
	SelfCheckSec    int          `yaml:"self_check_sec"`
	MirrorSec       int          `yaml:"mirror_sec"`
	ThoughtSyncSec  int          `yaml:"thought_sync_sec"`
	RestartDelaySec int          `yaml:"restart_delay_sec"`
}

// CameraConfig defines frame capture.
type CameraConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Device      string `yaml:"device"`
	IntervalSec int    `yaml:"interval_sec"`
}

// DetectConfig defines the object-detection collaborator.
type DetectConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceURL  string `yaml:"service_url"`
	IntervalSec int    `yaml:"interval_sec"`
}

// HealConfig tunes the resilience monitor.
type HealConfig struct {
	Enabled     bool   `yaml:"enabled"`
	IntervalSec int    `yaml:"interval_sec"`
	LogFile     string `yaml:"log_file"`
}

// SpeechConfig defines the TTS collaborator.
type SpeechConfig struct {
	Enabled bool `yaml:"enabled"`
	// Command is the TTS program invoked with the text as its final
	// argument (e.g. "espeak-ng" or a piper wrapper script).
	Command string `yaml:"command"`
}

// MQTTConfig defines the optional MQTT state mirror.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	IntervalSec int    `yaml:"interval_sec"`
}

// ListenConfig defines the observe API server settings.
type ListenConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Load reads configuration from a YAML file. A .env file next to the
// config (if present) is loaded first so that ${VAR} references in the
// YAML can name secrets kept out of the file itself.
func Load(path string) (*Config, error) {
	// Best effort, a missing .env is not an error.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultSystemPrompt is the persona prompt used when the config does
// not override it.
const DefaultSystemPrompt = "You are Max, an autonomous AI agent running on this machine. " +
	"You have a continuous thought engine, a live camera feed with object detection, " +
	"and a set of skills you can invoke. Be direct, concise, and proactive. " +
	"Share observations when they matter and keep the conversation flowing."

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Backend: "ollama",
			Ollama: OllamaConfig{
				Host:  "http://localhost:11434",
				Model: "qwen2.5:7b",
			},
			OpenAI: OpenAIConfig{Model: "gpt-4o-mini"},
			Gemini: GeminiConfig{Model: "gemini-2.0-flash"},
		},
		Brain: BrainConfig{
			MaxHistory:    10,
			MaxToolRounds: 5,
			SystemPrompt:  DefaultSystemPrompt,
		},
		Thought:  ThoughtConfig{Enabled: true, IntervalSec: 15},
		FreeTalk: FreeTalkConfig{Enabled: true, MinIntervalSec: 20},
		Sentinel: SentinelConfig{
			Camera:          CameraConfig{Enabled: true, Device: "/dev/video0", IntervalSec: 1},
			Detect:          DetectConfig{Enabled: true, ServiceURL: "http://localhost:8600", IntervalSec: 1},
			TelemetrySec:    15,
			USBSec:          10,
			SelfCheckSec:    300,
			MirrorSec:       3,
			ThoughtSyncSec:  5,
			RestartDelaySec: 10,
		},
		Heal:    HealConfig{Enabled: true, IntervalSec: 30, LogFile: "/tmp/maxd.log"},
		Speech:  SpeechConfig{Enabled: true, Command: "espeak-ng"},
		MQTT:    MQTTConfig{TopicPrefix: "maxd", IntervalSec: 5},
		Listen:  ListenConfig{Enabled: true, Port: 7777},
		DataDir: "data",
	}
}
