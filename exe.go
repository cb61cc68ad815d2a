package lightningd

import (
	"fmt"
	"os"
	"os/exec"
)

// ExeEnv is the environment variable that points at the lightningd binary.
const ExeEnv = "LIGHTNINGD_EXE"

// ExePath locates the lightningd executable.
//
// The lookup order is:
//  1. the LIGHTNINGD_EXE environment variable
//  2. "lightningd" on PATH
//
// Returns:
//   - string: absolute or PATH-resolved executable path
//   - error: wraps ErrExecutableNotFound if neither is usable
func ExePath() (string, error) {
	if exe := os.Getenv(ExeEnv); exe != "" {
		return resolveExe(exe)
	}
	return resolveExe("lightningd")
}

// resolveExe checks that exe exists and is runnable. Bare names are looked
// up on PATH.
func resolveExe(exe string) (string, error) {
	if exe == "" {
		return "", fmt.Errorf("%w: empty path", ErrExecutableNotFound)
	}
	path, err := exec.LookPath(exe)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecutableNotFound, err)
	}
	return path, nil
}
