package fileloader

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/matchpulse/matchpulse/internal/config"
)

// FileLoader loads configuration from a file on disk. It implements the Loader
// interface to provide file-based configuration management.
type FileLoader struct {
	// path is the filesystem path to the configuration file.
	path string
}

// NewFileLoader creates a new FileLoader that will load configuration from the
// specified file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the configuration file specified in FileLoader.path.
// References of the form ${VAR} are expanded from the environment before
// parsing, so secrets like access tokens and DSNs can stay out of the file.
// The loaded configuration has defaults applied and is validated before it is
// returned, so callers always receive a usable configuration or an error.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
