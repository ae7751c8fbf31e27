package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// historyPath locates the sync-directory history file in the user's cache
// directory. The file lists known sync directories, most recent first.
func historyPath() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating user cache directory: %w", err)
	}
	return filepath.Join(base, "studip", "history"), nil
}

// ResolveSyncDir turns the optional command-line sync directory into an
// absolute path, falling back to the most recently used one. The chosen
// directory moves to the front of the history.
func ResolveSyncDir(arg string) (string, error) {
	path, err := historyPath()
	if err != nil {
		return "", err
	}
	history := readHistory(path)

	var dir string
	if arg != "" {
		dir, err = filepath.Abs(arg)
		if err != nil {
			return "", fmt.Errorf("resolving sync directory: %w", err)
		}
	} else if len(history) > 0 {
		dir = history[0]
	} else {
		return "", fmt.Errorf("no sync directory given and none known from previous runs")
	}

	updated := []string{dir}
	for _, h := range history {
		if h != dir {
			updated = append(updated, h)
		}
	}
	if err := writeHistory(path, updated); err != nil {
		return "", err
	}
	return dir, nil
}

func readHistory(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			dirs = append(dirs, line)
		}
	}
	return dirs
}

func writeHistory(path string, dirs []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}
	data := strings.Join(dirs, "\n") + "\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("writing history file: %w", err)
	}
	return nil
}
