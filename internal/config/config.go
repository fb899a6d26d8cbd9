package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir       string `json:"data_dir" yaml:"data_dir"`
	LogLevel      string `json:"log_level" yaml:"log_level"`
	LogFormat     string `json:"log_format" yaml:"log_format"`
	MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent"`
	HTTP          struct {
		Listen    string `json:"listen" yaml:"listen"`
		PublicURL string `json:"public_url" yaml:"public_url"`
	} `json:"http" yaml:"http"`
	Upload struct {
		URL           string `json:"url" yaml:"url"`
		MaxFileSizeMB int    `json:"max_file_size_mb" yaml:"max_file_size_mb"`
	} `json:"upload" yaml:"upload"`
	Dialog struct {
		URL      string `json:"url" yaml:"url"`
		Greeting string `json:"greeting" yaml:"greeting"`
	} `json:"dialog" yaml:"dialog"`
	Chat struct {
		ResponderURL     string `json:"responder_url" yaml:"responder_url"`
		Model            string `json:"model" yaml:"model"`
		MaxContextTokens int    `json:"max_context_tokens" yaml:"max_context_tokens"`
		OutputReserve    int    `json:"output_reserve" yaml:"output_reserve"`
		HistoryLimit     int    `json:"history_limit" yaml:"history_limit"`
	} `json:"chat" yaml:"chat"`
	Voice struct {
		SampleRate    int    `json:"sample_rate" yaml:"sample_rate"`
		BitsPerSecond int    `json:"bits_per_second" yaml:"bits_per_second"`
		TimesliceMS   int    `json:"timeslice_ms" yaml:"timeslice_ms"`
		InputDevice   string `json:"input_device" yaml:"input_device"`
		FFmpegPath    string `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	} `json:"voice" yaml:"voice"`
	Transcription struct {
		Enabled       bool   `json:"enabled" yaml:"enabled"`
		APIKey        string `json:"api_key" yaml:"api_key"`
		BaseURL       string `json:"base_url" yaml:"base_url"`
		Model         string `json:"model" yaml:"model"`
		MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent"`
	} `json:"transcription" yaml:"transcription"`
	Telegram struct {
		Token  string `json:"token" yaml:"token"`
		ChatID int64  `json:"chat_id" yaml:"chat_id"`
	} `json:"telegram" yaml:"telegram"`
	Mattermost struct {
		URL       string `json:"url" yaml:"url"`
		Token     string `json:"token" yaml:"token"`
		ChannelID string `json:"channel_id" yaml:"channel_id"`
	} `json:"mattermost" yaml:"mattermost"`
}

// DefaultPath returns ~/.voxchat/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".voxchat", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".voxchat"),
		LogLevel:      "info",
		LogFormat:     "text",
		MaxConcurrent: 2,
	}
	cfg.HTTP.Listen = ":8080"
	cfg.HTTP.PublicURL = "http://localhost:8080"
	cfg.Upload.MaxFileSizeMB = 25
	cfg.Dialog.URL = "http://127.0.0.1:5000"
	cfg.Dialog.Greeting = "Hello, I'm calling to confirm your appointment with the therapist"
	cfg.Chat.Model = "gpt-4o-mini"
	cfg.Chat.MaxContextTokens = 8000
	cfg.Chat.OutputReserve = 1024
	cfg.Chat.HistoryLimit = 50
	cfg.Voice.SampleRate = 44100
	cfg.Voice.BitsPerSecond = 128000
	cfg.Voice.TimesliceMS = 1000
	cfg.Voice.InputDevice = "default"
	cfg.Voice.FFmpegPath = "ffmpeg"
	cfg.Transcription.BaseURL = "https://api.openai.com/v1"
	cfg.Transcription.Model = "whisper-1"
	cfg.Transcription.MaxConcurrent = 2
	return cfg
}

// Load reads the config file at path, writing defaults if it does not exist.
// A .env file next to the config (or in the working directory) is loaded
// first; environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()

	cfg := defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode yaml: %w", err)
		}
		return nil
	}
	return json.Unmarshal(data, cfg)
}

func encode(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func applyEnv(cfg *Config) {
	cfg.DataDir = GetEnv("VOXCHAT_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = GetEnv("VOXCHAT_LOG_LEVEL", cfg.LogLevel)
	cfg.HTTP.Listen = GetEnv("VOXCHAT_LISTEN", cfg.HTTP.Listen)
	cfg.HTTP.PublicURL = GetEnv("VOXCHAT_PUBLIC_URL", cfg.HTTP.PublicURL)
	cfg.Upload.URL = GetEnv("VOXCHAT_UPLOAD_URL", cfg.Upload.URL)
	cfg.Dialog.URL = GetEnv("VOXCHAT_DIALOG_URL", cfg.Dialog.URL)
	cfg.Chat.ResponderURL = GetEnv("VOXCHAT_RESPONDER_URL", cfg.Chat.ResponderURL)
	cfg.Transcription.APIKey = GetEnv("OPENAI_API_KEY", cfg.Transcription.APIKey)
	cfg.Transcription.BaseURL = GetEnv("OPENAI_BASE_URL", cfg.Transcription.BaseURL)
	cfg.Telegram.Token = GetEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.Token)
	if s := os.Getenv("TELEGRAM_CHAT_ID"); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	cfg.Mattermost.URL = GetEnv("MATTERMOST_URL", cfg.Mattermost.URL)
	cfg.Mattermost.Token = GetEnv("MATTERMOST_TOKEN", cfg.Mattermost.Token)
	cfg.Mattermost.ChannelID = GetEnv("MATTERMOST_CHANNEL_ID", cfg.Mattermost.ChannelID)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q is invalid; valid values: text, json", cfg.LogFormat))
	}
	if cfg.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("max_concurrent must not be negative"))
	}
	if cfg.Upload.MaxFileSizeMB < 0 {
		errs = append(errs, fmt.Errorf("upload.max_file_size_mb must not be negative"))
	}
	if cfg.Voice.SampleRate < 0 || cfg.Voice.BitsPerSecond < 0 || cfg.Voice.TimesliceMS < 0 {
		errs = append(errs, fmt.Errorf("voice settings must not be negative"))
	}
	for key, raw := range map[string]string{
		"http.public_url":        cfg.HTTP.PublicURL,
		"upload.url":             cfg.Upload.URL,
		"dialog.url":             cfg.Dialog.URL,
		"chat.responder_url":     cfg.Chat.ResponderURL,
		"mattermost.url":         cfg.Mattermost.URL,
		"transcription.base_url": cfg.Transcription.BaseURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute URL", key, raw))
		}
	}
	if cfg.Transcription.Enabled && cfg.Transcription.APIKey == "" {
		errs = append(errs, fmt.Errorf("transcription.api_key is required when transcription is enabled"))
	}

	return errors.Join(errs...)
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its nested JSON object form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as a flat dot-key map, optionally with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRaw decodes the config file into a generic map so keys outside Config survive a rewrite.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if isYAML(path) {
		err = yaml.Unmarshal(data, &m)
	} else {
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return m, nil
}

// GetValue returns the value stored under a dot-separated key.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores raw under a dot-separated key. Values that parse as JSON
// (numbers, booleans) are stored typed; anything else is stored as a string.
func SetValue(path, key, raw string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}

	flat := Flatten(m)
	flat[key] = v
	data, err := encode(path, Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}
