// Package config loads bridge settings files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings holds merged configuration from multiple files.
// Later files override earlier ones (user < project < local).
type Settings struct {
	Model            string         `json:"model,omitempty" yaml:"model,omitempty"`
	MaxInputTokens   int            `json:"maxInputTokens,omitempty" yaml:"max_input_tokens,omitempty"`
	MaxTurns         int            `json:"maxTurns,omitempty" yaml:"max_turns,omitempty"`
	PermissionMode   string         `json:"permissionMode,omitempty" yaml:"permission_mode,omitempty"`
	WorkingDirectory string         `json:"workingDirectory,omitempty" yaml:"working_directory,omitempty"`
	CLIPath          string         `json:"cliPath,omitempty" yaml:"cli_path,omitempty"`
	ToolTimeout      string         `json:"toolTimeout,omitempty" yaml:"tool_timeout,omitempty"` // Go duration, e.g. "5m"
	Custom           map[string]any `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// LoadSettings merges settings from JSON (.json) or YAML (anything else)
// files. Later paths override earlier ones. Missing files are skipped; a file
// that exists but does not parse is an error naming the file.
func LoadSettings(paths ...string) (*Settings, error) {
	merged := &Settings{Custom: make(map[string]any)}

	for _, path := range paths {
		s, err := loadSettingsFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		mergeSettings(merged, s)
	}
	return merged, nil
}

// DefaultSettingsPaths returns the standard settings file search paths.
func DefaultSettingsPaths(projectDir string) []string {
	home, _ := os.UserHomeDir()
	var paths []string

	if home != "" {
		paths = append(paths, filepath.Join(home, ".agent-bridge", "settings.yaml"))
	}
	if projectDir != "" {
		paths = append(paths,
			filepath.Join(projectDir, ".agent-bridge", "settings.yaml"),
			filepath.Join(projectDir, ".agent-bridge", "settings.local.yaml"),
		)
	}
	return paths
}

func loadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Settings
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &s)
	} else {
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return &s, nil
}

func mergeSettings(dst, src *Settings) {
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.MaxInputTokens > 0 {
		dst.MaxInputTokens = src.MaxInputTokens
	}
	if src.MaxTurns > 0 {
		dst.MaxTurns = src.MaxTurns
	}
	if src.PermissionMode != "" {
		dst.PermissionMode = src.PermissionMode
	}
	if src.WorkingDirectory != "" {
		dst.WorkingDirectory = src.WorkingDirectory
	}
	if src.CLIPath != "" {
		dst.CLIPath = src.CLIPath
	}
	if src.ToolTimeout != "" {
		dst.ToolTimeout = src.ToolTimeout
	}
	for k, v := range src.Custom {
		if dst.Custom == nil {
			dst.Custom = make(map[string]any)
		}
		dst.Custom[k] = v
	}
}
