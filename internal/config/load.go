package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config file names searched in the project root. JSON is canonical; TOML
// is accepted for projects that keep the rest of their tooling in TOML.
const (
	FileJSON = ".gsd-autopilot.json"
	FileTOML = ".gsd-autopilot.toml"
)

// LoadFile reads the project config file, preferring JSON over TOML when
// both exist. It returns (nil, "") without error when neither file exists:
// a missing config file simply contributes nothing to the merge.
func LoadFile(projectDir string) (*Config, string, error) {
	jsonPath := filepath.Join(projectDir, FileJSON)
	if data, err := os.ReadFile(jsonPath); err == nil {
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("parsing %s: %w", jsonPath, err)
		}
		return &cfg, jsonPath, nil
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("reading %s: %w", jsonPath, err)
	}

	tomlPath := filepath.Join(projectDir, FileTOML)
	if _, err := os.Stat(tomlPath); err == nil {
		var cfg Config
		if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
			return nil, "", fmt.Errorf("parsing %s: %w", tomlPath, err)
		}
		return &cfg, tomlPath, nil
	}

	return nil, "", nil
}

// LoadDotenv loads a .env file from the project root into the process
// environment without overriding variables that are already set. A missing
// .env is not an error.
func LoadDotenv(projectDir string) error {
	path := filepath.Join(projectDir, ".env")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
