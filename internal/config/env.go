package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	ferrors "git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// envFileNames are tried in order; godotenv never overrides a variable that is
// already set, so earlier files win.
var envFileNames = []string{".env.local", ".env"}

// loadEnvFiles populates the process environment from dotenv files in the
// working directory and next to the config file. Missing files are skipped.
func loadEnvFiles(configPath string) ([]string, error) {
	dirs := []string{"."}
	if d := filepath.Dir(configPath); d != "." {
		dirs = append(dirs, d)
	}
	var loaded []string
	for _, dir := range dirs {
		for _, name := range envFileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err := godotenv.Load(path); err != nil {
				return loaded, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to parse env file").
					WithContext("path", path).
					Build()
			}
			loaded = append(loaded, path)
		}
	}
	return loaded, nil
}
