package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// FindProjectRoot returns the directory holding the gitcom go.mod, searched
// upwards from the calling source file. The integration harness builds
// ./cmd/gitcom from there.
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", errors.New("no caller information to start the go.mod search from")
	}

	for dir := filepath.Dir(filename); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above " + filepath.Dir(filename))
		}
		dir = parent
	}
}
