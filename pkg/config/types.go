package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds derived runtime values other packages query while the
// server runs (populated during startup after merging env+file).
type RuntimeConfig struct {
	JWTSecret string
	DevTokens bool
}

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Security  SecurityConfig  `yaml:"security"`
	Chat      ChatConfig      `yaml:"chat"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig holds credential verification settings.
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens; CHATWIRE_JWT_SECRET
	// overrides it
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTL bounds dev-minted token lifetime
	TokenTTL Duration `yaml:"token_ttl"`
	// DevTokens enables the local token mint endpoint; never enable in
	// production
	DevTokens bool `yaml:"dev_tokens"`
}

// SecurityConfig holds edge protection settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// ChatConfig tunes the session subsystem.
type ChatConfig struct {
	// BacklogLimit caps the recent-history window returned on first join
	BacklogLimit int `yaml:"backlog_limit"`
	// TypingTTL is the expiry window for typing indicators
	TypingTTL Duration `yaml:"typing_ttl"`
	// SweepInterval is the typing expiry check cadence
	SweepInterval Duration `yaml:"sweep_interval"`
	// AuthTimeout bounds connect-time authentication
	AuthTimeout Duration `yaml:"auth_timeout"`
	// SendQueue is the per-connection outbound event buffer
	SendQueue int `yaml:"send_queue"`
	// MaxDropped closes a connection after this many dropped events
	MaxDropped int `yaml:"max_dropped"`
	// SessionQueue is the per-session command buffer feeding the writer
	SessionQueue int `yaml:"session_queue"`
	// WorkerIdle retires an idle session writer goroutine
	WorkerIdle Duration `yaml:"worker_idle"`
	// Upload limits
	MaxContentLen     int       `yaml:"max_content_len"`
	MaxSubjectLen     int       `yaml:"max_subject_len"`
	MaxAttachments    int       `yaml:"max_attachments"`
	MaxAttachmentSize SizeBytes `yaml:"max_attachment_size"`
	AllowedFileTypes  []string  `yaml:"allowed_file_types"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig controls sampling and slow-request thresholds.
type TelemetryConfig struct {
	SampleRate    float64  `yaml:"sample_rate"`
	SlowThreshold Duration `yaml:"slow_threshold"`
}

// RetentionConfig holds configuration for the idle-session sweep runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// IdleAfter closes sessions with no activity for this long
	IdleAfter Duration `yaml:"idle_after"`
	DryRun    bool     `yaml:"dry_run"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
