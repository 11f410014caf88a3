package config

import (
	"os"
	"path/filepath"
)

// AppName is the canonical application name, used for the config home
// directory and the NGOCLAW-style environment variable prefix.
const AppName = "lmproxy"

// WorkspaceDirName is the ".lmproxy" directory name. Load does not read
// it; project-local overrides come from ./config/config.yaml or
// ./config.yaml.
const WorkspaceDirName = "." + AppName

// HomeDir returns the user's gateway configuration home: ~/.lmproxy
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}
