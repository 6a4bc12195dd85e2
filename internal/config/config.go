package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/pkg/errors"
)

const component = "config"

// DefaultConfigPath is the path to the example configuration with every default spelled out
const DefaultConfigPath = "config/mtf.defaults.json"

// TrackerConfig is the root configuration of a tracking run.
// Every section is optional. Missing fields fall back to the defaults of the component.
type TrackerConfig struct {
	// SearchMethod is one of "gradient", "neighbor" or "particle"
	SearchMethod *string `json:"search_method,omitempty"`
	LogLevel     *string `json:"log_level,omitempty"`
	LogFormat    *string `json:"log_format,omitempty"` // "text" or "json"

	SSIM     *SSIMConfig     `json:"ssim,omitempty"`
	Isometry *IsometryConfig `json:"isometry,omitempty"`
	Gradient *GradientConfig `json:"gradient,omitempty"`
	Neighbor *NeighborConfig `json:"neighbor,omitempty"`
	Particle *ParticleConfig `json:"particle,omitempty"`
	Tracker  *DriverConfig   `json:"tracker,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyTrackerConfig returns a TrackerConfig with all fields set to nil
func EmptyTrackerConfig() *TrackerConfig {
	return &TrackerConfig{}
}

// LoadTrackerConfig loads a TrackerConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
// Fields omitted from the file keep their defaults, so partial configs are safe.
func LoadTrackerConfig(path string) (*TrackerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, mtf.NewConfigurationError(component, "config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, mtf.NewIOError(component, errors.Wrap(err, "Can't stat config file"), "reading '%s'", cleanPath)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, mtf.NewConfigurationError(component, "config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, mtf.NewIOError(component, errors.Wrap(err, "Can't read config file"), "reading '%s'", cleanPath)
	}
	return ParseTrackerConfig(data)
}

// ParseTrackerConfig decodes and validates JSON configuration. Unknown fields are rejected.
func ParseTrackerConfig(data []byte) (*TrackerConfig, error) {
	cfg := EmptyTrackerConfig()
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, mtf.NewConfigurationError(component, "failed to parse config JSON: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate resolves every section against component defaults and validates the result
func (c *TrackerConfig) Validate() error {
	switch c.GetSearchMethod() {
	case SearchGradient, SearchNeighbor, SearchParticle:
	default:
		return mtf.NewConfigurationError(component, "unknown search method '%s'", c.GetSearchMethod())
	}
	if _, err := c.GetLogLevel(); err != nil {
		return err
	}
	switch c.GetLogFormat() {
	case "text", "json":
	default:
		return mtf.NewConfigurationError(component, "unknown log format '%s'", c.GetLogFormat())
	}
	if _, err := c.SSIM.Params(); err != nil {
		return err
	}
	if _, err := c.Isometry.Params(); err != nil {
		return err
	}
	if _, err := c.Tracker.Params(); err != nil {
		return err
	}
	// only the selected search method has to be complete
	switch c.GetSearchMethod() {
	case SearchGradient:
		_, err := c.Gradient.Params()
		return err
	case SearchNeighbor:
		_, err := c.Neighbor.Params()
		return err
	default:
		_, err := c.Particle.Params()
		return err
	}
}

// Search method names
const (
	SearchGradient = "gradient"
	SearchNeighbor = "neighbor"
	SearchParticle = "particle"
)

// GetSearchMethod returns the configured search method, gradient by default
func (c *TrackerConfig) GetSearchMethod() string {
	if c.SearchMethod == nil {
		return SearchGradient
	}
	return strings.ToLower(*c.SearchMethod)
}

// GetLogLevel parses the configured level, info by default
func (c *TrackerConfig) GetLogLevel() (slog.Level, error) {
	if c.LogLevel == nil {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(*c.LogLevel)); err != nil {
		return slog.LevelInfo, mtf.NewConfigurationError(component, "invalid log_level '%s': %v", *c.LogLevel, err)
	}
	return level, nil
}

// GetLogFormat returns "text" or "json", text by default
func (c *TrackerConfig) GetLogFormat() string {
	if c.LogFormat == nil {
		return "text"
	}
	return strings.ToLower(*c.LogFormat)
}

// NewLogger builds the logger described by log_level and log_format
func (c *TrackerConfig) NewLogger() (*mtf.Logger, error) {
	level, err := c.GetLogLevel()
	if err != nil {
		return nil, err
	}
	if c.GetLogFormat() == "json" {
		return mtf.NewJSONLogger(level), nil
	}
	return mtf.NewTextLogger(level), nil
}
