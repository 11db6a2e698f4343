package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envConfigFile = "WBH_CONFIG_PATH"
	envDataDir    = "WBH_HOME"
)

// Paths locates what the daemon keeps outside the watched roots.
type Paths struct {
	// ConfigFile is the TOML config, $WBH_CONFIG_PATH or ~/.config/wbh.toml.
	ConfigFile string
	// DataDir is the base_dir of a fresh config, $WBH_HOME or
	// ~/.local/share/wbh. The catalog and logs live beneath it.
	DataDir string
}

// ResolvePaths applies the environment overrides and fills the rest in
// under the user's home directory. The home directory is only looked up
// when an override is missing.
func ResolvePaths() (Paths, error) {
	var home string
	under := func(env string, rel ...string) (string, error) {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
		if home == "" {
			h, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("%s is unset and the home directory is unknown: %w", env, err)
			}
			home = h
		}
		return filepath.Join(append([]string{home}, rel...)...), nil
	}

	configFile, err := under(envConfigFile, ".config", "wbh.toml")
	if err != nil {
		return Paths{}, err
	}
	dataDir, err := under(envDataDir, ".local", "share", "wbh")
	if err != nil {
		return Paths{}, err
	}
	return Paths{ConfigFile: configFile, DataDir: dataDir}, nil
}
