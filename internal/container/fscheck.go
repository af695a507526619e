package container

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// NetworkFilesystem reports whether the container at path would land on a
// network filesystem, where SQLite locking is unreliable. The filesystem type
// is returned for logging. Detection failures are returned as errors and
// should not stop a run.
func NetworkFilesystem(path string) (string, bool, error) {
	return networkFilesystemWithDetector(path, detectFilesystemType)
}

func networkFilesystemWithDetector(path string, detector func(string) (string, error)) (string, bool, error) {
	if path == "" {
		return "", false, errors.New("container path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return "", false, fmt.Errorf("resolve container path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return "", false, fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}
	return fsType, isNetworkFilesystem(fsType), nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
