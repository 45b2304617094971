package bridge

import (
	"fmt"
	"os"
	"time"

	"github.com/armatrix/agent-bridge/internal/config"
	"github.com/armatrix/agent-bridge/permission"
)

// Config enumerates every setting a Bridge recognizes. The zero value is
// usable; New fills unset fields with defaults.
type Config struct {
	// Model is forwarded to the runtime and selects the pricing row used for
	// cost estimates. Empty lets the runtime choose its default model.
	Model string

	// MaxInputTokens is the cumulative input ceiling across requests.
	// 0 disables the ceiling.
	MaxInputTokens int

	// MaxTurns bounds runtime turns per session. Default DefaultMaxTurns.
	MaxTurns int

	// PermissionMode is passed to the runtime. Default DefaultPermissionMode.
	PermissionMode permission.Mode

	// WorkingDirectory is where the runtime executes. Default: the process
	// working directory at New.
	WorkingDirectory string

	// CLIPath overrides the agent binary used by CLI runtimes.
	CLIPath string

	// DefaultToolTimeout bounds AskWithTools calls that set no Timeout.
	// Default DefaultToolTimeout.
	DefaultToolTimeout time.Duration
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() error {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.PermissionMode == "" {
		c.PermissionMode = DefaultPermissionMode
	}
	if c.DefaultToolTimeout <= 0 {
		c.DefaultToolTimeout = DefaultToolTimeout
	}
	if c.WorkingDirectory == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		c.WorkingDirectory = wd
	}
	return nil
}

// LoadConfig merges settings files (YAML, or JSON by .json extension) into a
// Config. Later files override earlier ones and missing files are skipped.
// Defaults are applied by New, not here.
func LoadConfig(paths ...string) (Config, error) {
	s, err := config.LoadSettings(paths...)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Model:            s.Model,
		MaxInputTokens:   s.MaxInputTokens,
		MaxTurns:         s.MaxTurns,
		WorkingDirectory: s.WorkingDirectory,
		CLIPath:          s.CLIPath,
	}
	if s.PermissionMode != "" {
		mode, err := permission.ParseMode(s.PermissionMode)
		if err != nil {
			return Config{}, err
		}
		cfg.PermissionMode = mode
	}
	if s.ToolTimeout != "" {
		d, err := time.ParseDuration(s.ToolTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse tool timeout %q: %w", s.ToolTimeout, err)
		}
		cfg.DefaultToolTimeout = d
	}
	return cfg, nil
}

// DefaultConfigPaths returns the standard settings search paths for a project.
func DefaultConfigPaths(projectDir string) []string {
	return config.DefaultSettingsPaths(projectDir)
}
