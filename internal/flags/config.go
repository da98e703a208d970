package flags

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
)

const (
	// Env vars
	EnvVarConfigFile = "HYDRA_CONFIG_FILE"
	EnvVarDataDir    = "HYDRA_DATA_DIR"
	EnvVarLogPath    = "HYDRA_LOG_PATH"
	EnvVarLogLevel   = "HYDRA_LOG_LEVEL"

	// Defaults
	DefaultConfigFile = "hydra.toml"
	DefaultLogPath    = ""
	DefaultLogLevel   = "info"

	// Flag names
	FlagNameConfigFile = "config-file"
	FlagNameDataDir    = "data-dir"
	FlagNameLogPath    = "log-path"
	FlagNameLogLevel   = "log-level"
)

var (
	ConfigFile string
	DataDir    string
	LogPath    string
	LogLevel   string
)

func InitFlags(fs *pflag.FlagSet) {
	initConfigFile(fs)
	initDataDir(fs)
	initLogger(fs)
}

func initConfigFile(fs *pflag.FlagSet) {
	if ConfigFile == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarConfigFile)); env != "" {
			ConfigFile = env
		} else {
			ConfigFile = DefaultConfigFile
		}
	}
	fs.StringVar(&ConfigFile, FlagNameConfigFile, ConfigFile, "path to config file")
}

func initDataDir(fs *pflag.FlagSet) {
	if DataDir == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarDataDir)); env != "" {
			DataDir = env
		} else {
			DataDir = defaultDataDir()
		}
	}
	fs.StringVar(&DataDir, FlagNameDataDir, DataDir, "directory holding mirrors, caches and lock files")
}

func initLogger(fs *pflag.FlagSet) {
	if LogPath == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarLogPath)); env != "" {
			LogPath = env
		} else {
			LogPath = DefaultLogPath
		}
	}
	fs.StringVar(&LogPath, FlagNameLogPath, LogPath, "path to generated log file")

	if LogLevel == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarLogLevel)); env != "" {
			LogLevel = strings.ToLower(env)
		} else {
			LogLevel = DefaultLogLevel
		}
	}
	fs.StringVar(&LogLevel, FlagNameLogLevel, LogLevel, "log level for fetch logs")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "hydra-fetch")
	}
	return filepath.Join(home, ".cache", "hydra-fetch")
}
