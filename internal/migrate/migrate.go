// Package migrate: общие части применения встроенных SQL-миграций.
package migrate

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

const Table = "schema_migrations"

type File struct {
	Name string
	Up   string
}

// Load читает *.sql из fsys в порядке имён и вырезает секцию "-- +migrate Up".
func Load(fsys fs.FS) ([]File, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]File, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		up := ExtractUp(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}
		out = append(out, File{Name: name, Up: up})
	}
	return out, nil
}

// ExtractUp возвращает SQL между "-- +migrate Up" и "-- +migrate Down".
func ExtractUp(content string) string {
	const upMark, downMark = "-- +migrate Up", "-- +migrate Down"

	upIdx := strings.Index(content, upMark)
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx+len(upMark):]
	if downIdx := strings.Index(rest, downMark); downIdx != -1 {
		return rest[:downIdx]
	}
	return rest
}
