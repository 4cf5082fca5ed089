// Package config holds the bridge configuration surface.  Every knob has a
// default so a zero-file deployment works against a local inference server.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// ApprovalMode controls which tool calls require explicit caller sign-off.
type ApprovalMode string

const (
	ApprovalNone         ApprovalMode = "none"
	ApprovalHighRiskOnly ApprovalMode = "high_risk_only"
	ApprovalAll          ApprovalMode = "all"
	ApprovalPerTool      ApprovalMode = "per_tool"
)

// Config is the full configuration surface of the bridge.
type Config struct {
	// Endpoint is the WebSocket URL of the inference server, ws:// or wss://.
	// wss is required in production deployments.
	Endpoint string `mapstructure:"endpoint"`

	// FallbackEndpoint is the OpenAI-compatible HTTP base URL used for
	// non-streaming completions when streaming is disabled.
	FallbackEndpoint string `mapstructure:"fallback_endpoint"`

	Model          string `mapstructure:"model"`
	Streaming      bool   `mapstructure:"streaming"`
	MaxContextSize int    `mapstructure:"max_context_size"`
	SystemPrompt   string `mapstructure:"system_prompt"`

	AutoReconnect        bool          `mapstructure:"auto_reconnect"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`

	// StabilityWindow is how long a connection must stay up before the
	// reconnect attempt counter resets to zero.
	StabilityWindow time.Duration `mapstructure:"stability_window"`

	PingInterval time.Duration `mapstructure:"ping_interval"`

	ToolsEnabled    bool          `mapstructure:"tools_enabled"`
	ApprovalMode    ApprovalMode  `mapstructure:"approval_mode"`
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`

	// ApprovedTools is the allow list consulted in per_tool mode.  Tools not
	// listed require an explicit caller decision.
	ApprovedTools []string `mapstructure:"approved_tools"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	// RetentionWindow is how long terminal requests are kept around so late
	// duplicate frames can be recognised and dropped.
	RetentionWindow time.Duration `mapstructure:"retention_window"`

	// ListenAddr is the local HTTP API address of the daemon.
	ListenAddr string `mapstructure:"listen_addr"`

	LogLevel string `mapstructure:"log_level"`
}

// DefaultConfig returns the defaults from the protocol contract.
func DefaultConfig() Config {
	return Config{
		Endpoint:             "ws://127.0.0.1:8791/ws/chat",
		FallbackEndpoint:     "http://127.0.0.1:8791/v1",
		Model:                "local",
		Streaming:            true,
		MaxContextSize:       8192,
		AutoReconnect:        true,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   1000 * time.Millisecond,
		ReconnectMaxDelay:    30 * time.Second,
		StabilityWindow:      10 * time.Second,
		PingInterval:         30000 * time.Millisecond,
		ToolsEnabled:         true,
		ApprovalMode:         ApprovalAll,
		ApprovalTimeout:      120 * time.Second,
		MetricsEnabled:       true,
		RetentionWindow:      30 * time.Second,
		ListenAddr:           "127.0.0.1:8790",
		LogLevel:             "info",
	}
}

// Validate checks the configuration for values the bridge cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("endpoint scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must be >= 0, got %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect_base_delay must be positive, got %v", c.ReconnectBaseDelay)
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("reconnect_max_delay %v is below reconnect_base_delay %v",
			c.ReconnectMaxDelay, c.ReconnectBaseDelay)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive, got %v", c.PingInterval)
	}
	switch c.ApprovalMode {
	case ApprovalNone, ApprovalHighRiskOnly, ApprovalAll, ApprovalPerTool:
	default:
		return fmt.Errorf("unknown approval_mode %q", c.ApprovalMode)
	}
	if c.ApprovalTimeout <= 0 {
		return fmt.Errorf("approval_timeout must be positive, got %v", c.ApprovalTimeout)
	}
	if c.RetentionWindow <= 0 {
		return fmt.Errorf("retention_window must be positive, got %v", c.RetentionWindow)
	}
	return nil
}
