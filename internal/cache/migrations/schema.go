package migrations

import (
	"fmt"
	"sort"
	"strings"
)

// Schema returns the full current schema as one SQL script: every embedded
// up-migration concatenated in version order. Tests apply it directly to an
// in-memory database without going through the migration machinery.
func Schema() (string, error) {
	entries, err := migrationFiles.ReadDir("files")
	if err != nil {
		return "", fmt.Errorf("reading embedded migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var script strings.Builder
	for _, name := range names {
		data, err := migrationFiles.ReadFile("files/" + name)
		if err != nil {
			return "", fmt.Errorf("reading migration %s: %w", name, err)
		}
		script.Write(data)
		script.WriteString("\n")
	}
	return script.String(), nil
}
