package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional file plus INFERBRIDGE_* env
// overrides, layered on top of DefaultConfig.  path may be empty, in which
// case the standard locations are searched and a missing file is not an
// error.
func Load(path string) (Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("endpoint", def.Endpoint)
	v.SetDefault("fallback_endpoint", def.FallbackEndpoint)
	v.SetDefault("model", def.Model)
	v.SetDefault("streaming", def.Streaming)
	v.SetDefault("max_context_size", def.MaxContextSize)
	v.SetDefault("system_prompt", def.SystemPrompt)
	v.SetDefault("auto_reconnect", def.AutoReconnect)
	v.SetDefault("max_reconnect_attempts", def.MaxReconnectAttempts)
	v.SetDefault("reconnect_base_delay", def.ReconnectBaseDelay)
	v.SetDefault("reconnect_max_delay", def.ReconnectMaxDelay)
	v.SetDefault("stability_window", def.StabilityWindow)
	v.SetDefault("ping_interval", def.PingInterval)
	v.SetDefault("tools_enabled", def.ToolsEnabled)
	v.SetDefault("approval_mode", string(def.ApprovalMode))
	v.SetDefault("approval_timeout", def.ApprovalTimeout)
	v.SetDefault("approved_tools", def.ApprovedTools)
	v.SetDefault("metrics_enabled", def.MetricsEnabled)
	v.SetDefault("retention_window", def.RetentionWindow)
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("log_level", def.LogLevel)

	v.SetEnvPrefix("INFERBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("inferbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/inferbridge")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
