// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// ShutdownGrace bounds the graceful phase of browser teardown before the
	// forceful phase starts; ShutdownKill bounds the forceful phase before the
	// process is killed outright.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
	ShutdownKill  time.Duration `mapstructure:"shutdown_kill" yaml:"shutdown_kill"`
}

// ExtractionConfig tunes the browser-state extraction engine.
//
// The fast-mode threshold and the computed-style subsets are tuning
// parameters, deliberately configuration rather than constants.
type ExtractionConfig struct {
	// FastModeThreshold is the merged-tree node count above which the engine
	// switches to the reduced-fidelity path (no paint-order, smaller style
	// set) for the remainder of the step.
	FastModeThreshold int `mapstructure:"fast_mode_threshold" yaml:"fast_mode_threshold"`
	// ComputedStyles is the minimal style subset requested from the snapshot;
	// only these drive visibility/interactivity decisions.
	ComputedStyles []string `mapstructure:"computed_styles" yaml:"computed_styles"`
	// FastComputedStyles is the reduced subset used by the fast profile.
	FastComputedStyles []string `mapstructure:"fast_computed_styles" yaml:"fast_computed_styles"`
	// MaxIframes caps the number of frame documents processed per snapshot.
	MaxIframes int `mapstructure:"max_iframes" yaml:"max_iframes"`
	// MaxIframeDepth caps iframe nesting during tree merge.
	MaxIframeDepth int `mapstructure:"max_iframe_depth" yaml:"max_iframe_depth"`
	// PaintOrderFiltering enables the occlusion pass when paint data is
	// present. On unless explicitly disabled; a pointer so SetDefaults can
	// tell "unset" from "false".
	PaintOrderFiltering *bool `mapstructure:"paint_order_filtering" yaml:"paint_order_filtering"`
	// StrictFilter requires container roles to satisfy two independent
	// criteria before being kept.
	StrictFilter bool `mapstructure:"strict_filter" yaml:"strict_filter"`
	// MaxTextLength is the character budget for serialized visible text.
	MaxTextLength int `mapstructure:"max_text_length" yaml:"max_text_length"`
	// IncludeAttributes is the attribute allowlist emitted per element, in
	// output order.
	IncludeAttributes []string `mapstructure:"include_attributes" yaml:"include_attributes"`
	// StepTimeout bounds the batched protocol calls of one extraction step.
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
}

// requiredComputedStyles is the default style allowlist. Validated against the
// interactivity classifier's needs: these are the only properties it reads.
var requiredComputedStyles = []string{
	"display", "visibility", "opacity", "pointer-events",
	"cursor", "position", "z-index", "overflow",
}

// fastComputedStyles drops the occlusion-only properties.
var fastComputedStyles = []string{
	"display", "visibility", "opacity", "cursor",
}

// includeAttributes is the default per-element attribute allowlist.
var includeAttributes = []string{
	"title", "type", "checked", "name", "role", "value", "placeholder",
	"data-date-format", "alt", "aria-label", "aria-expanded", "data-state",
	"aria-checked",
}

// SetDefaults applies default values if they aren't set in the config file.
func (c *ExtractionConfig) SetDefaults() {
	// using <= 0 ensures we catch negative values too
	if c.FastModeThreshold <= 0 {
		c.FastModeThreshold = 4000
	}
	if len(c.ComputedStyles) == 0 {
		c.ComputedStyles = append([]string(nil), requiredComputedStyles...)
	}
	if len(c.FastComputedStyles) == 0 {
		c.FastComputedStyles = append([]string(nil), fastComputedStyles...)
	}
	if c.MaxIframes <= 0 {
		c.MaxIframes = 100
	}
	if c.MaxIframeDepth <= 0 {
		c.MaxIframeDepth = 5
	}
	if c.PaintOrderFiltering == nil {
		on := true
		c.PaintOrderFiltering = &on
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = 100
	}
	if len(c.IncludeAttributes) == 0 {
		c.IncludeAttributes = append([]string(nil), includeAttributes...)
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 10 * time.Second
	}
}

// PaintOrderEnabled resolves the tri-state flag; unset means enabled.
func (c *ExtractionConfig) PaintOrderEnabled() bool {
	return c.PaintOrderFiltering == nil || *c.PaintOrderFiltering
}

// SetDefaults applies browser defaults.
func (c *BrowserConfig) SetDefaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.ShutdownKill <= 0 {
		c.ShutdownKill = 3 * time.Second
	}
}

// SetDefaults applies logger defaults.
func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.ServiceName == "" {
		c.ServiceName = "domlens"
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 50 // MB
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 3
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 14 // days
	}
}

// Load unmarshals the current viper state into a Config and applies defaults.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Logger.SetDefaults()
	cfg.Browser.SetDefaults()
	cfg.Extraction.SetDefaults()
	return &cfg, nil
}

// Default returns a Config with all defaults applied and no file input.
func Default() *Config {
	var cfg Config
	cfg.Logger.SetDefaults()
	cfg.Browser.SetDefaults()
	cfg.Extraction.SetDefaults()
	return &cfg
}
