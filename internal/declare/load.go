package declare

import (
	"fmt"
	"io/fs"
	stdpath "path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/whiteboard/internal/log"
)

// LoadDir reads every *.yaml and *.yml file at the root of fsys. Hidden files
// are skipped. Declarations are returned sorted by name; names must be unique
// across files.
func LoadDir(fsys fs.FS) ([]Declaration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading declarations: %w", err)
	}

	var all []Declaration
	seen := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if ext := stdpath.Ext(name); ext != ".yaml" && ext != ".yml" {
			continue
		}

		decls, err := LoadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		for _, d := range decls {
			if prev, dup := seen[d.Name]; dup {
				return nil, fmt.Errorf("%w: %q in %s and %s", ErrDuplicateName, d.Name, prev, name)
			}
			seen[d.Name] = name
			all = append(all, d)
		}
	}

	slices.SortFunc(all, func(a, b Declaration) int { return strings.Compare(a.Name, b.Name) })
	log.Debug(log.CatConfig, "Loaded declarations", "count", len(all))
	return all, nil
}

// LoadFile parses one declarations file.
func LoadFile(fsys fs.FS, name string) ([]Declaration, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	var file File
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	for i := range file.Providers {
		file.Providers[i].File = name
		if err := file.Providers[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return file.Providers, nil
}
