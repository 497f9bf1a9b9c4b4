// Package executils resolves the external tool binaries the pipeline shells
// out to. Discovery beyond this resolution — an
// installer, a download manager, a GUI binary picker — is an external
// collaborator and has no home here.
package executils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
)

// FindBinary searches for name with a 3-tier priority:
//  1. an explicit override (a user-supplied path table)
//  2. a local "bin" folder relative to the running executable
//  3. the system PATH
func FindBinary(name string, overrides map[string]string) (string, error) {
	if goruntime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		name += ".exe"
	}

	if overrides != nil {
		if p, ok := overrides[strings.TrimSuffix(name, ".exe")]; ok && p != "" {
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	if ex, err := os.Executable(); err == nil {
		localPath := filepath.Join(filepath.Dir(ex), "bin", name)
		if _, err := os.Stat(localPath); err == nil {
			return localPath, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%s not found on PATH; pass an explicit override", name)
}
