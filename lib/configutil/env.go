package configutil

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads `.env` style files from dir into the process
// environment, later files override earlier ones. Missing files are ignored.
func LoadEnvFiles(dir string, names ...string) []string {
	var loaded []string
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		err := godotenv.Overload(path)
		if err != nil {
			slog.Warn("failed to load env file", "path", path, "err", err)
			continue
		}
		loaded = append(loaded, path)
	}
	if len(loaded) > 0 {
		slog.Debug("loaded env files", "files", loaded)
	}
	return loaded
}

// OverrideFromEnv replaces *target with the value of the environment
// variable key when it is set and non-empty.
func OverrideFromEnv(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}
