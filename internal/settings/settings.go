// Package settings persists user rule settings: the compression level,
// per-rule enabled overrides and custom rules.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bimmerbailey/prompthakcer/internal/config"
	"github.com/bimmerbailey/prompthakcer/internal/rules"
)

// Provider loads and saves rules.Settings. Save replaces whatever was
// stored before.
type Provider interface {
	Load(ctx context.Context) (*rules.Settings, error)
	Save(ctx context.Context, s *rules.Settings) error
}

// FileProvider stores settings as a JSON file.
type FileProvider struct {
	Path string
}

// NewFileProvider creates a FileProvider for path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

// Load reads the settings file. A missing file yields empty settings.
func (p *FileProvider) Load(_ context.Context) (*rules.Settings, error) {
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return &rules.Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var s rules.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode settings %s: %w", p.Path, err)
	}
	return &s, nil
}

// Save writes the settings file, creating its directory if needed.
func (p *FileProvider) Save(_ context.Context, s *rules.Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return config.WriteFileAtomic(p.Path, append(data, '\n'))
}

// ReadExport reads an exported configuration file.
func ReadExport(path string) (rules.ExportedConfig, error) {
	var cfg rules.ExportedConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config export: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config export %s: %w", path, err)
	}
	return cfg, nil
}

// WriteExport writes cfg to path as indented JSON.
func WriteExport(path string, cfg rules.ExportedConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config export: %w", err)
	}
	return config.WriteFileAtomic(path, append(data, '\n'))
}
