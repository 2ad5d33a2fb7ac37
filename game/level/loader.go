package level

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var builtin embed.FS

// file is the top-level shape of a catalog YAML file.
type file struct {
	Levels []*Level `yaml:"levels"`
}

// loadFS reads every *.yaml / *.yml file in the root of fsys, validates the
// levels and returns them sorted.
func loadFS(fsys fs.FS) ([]*Level, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("level: list catalog: %w", err)
	}
	var all []*Level
	seen := make(map[string]string)
	events := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		levels, err := loadYAMLFile(fsys, name)
		if err != nil {
			return nil, err
		}
		for _, l := range levels {
			if prev, dup := seen[l.Key]; dup {
				return nil, fmt.Errorf("level: duplicate key %q in %s (first in %s)", l.Key, name, prev)
			}
			if prev, dup := events[l.CompletionEvent]; dup {
				return nil, fmt.Errorf("level: completion_event %q used by %s and %s", l.CompletionEvent, prev, l.Key)
			}
			seen[l.Key] = name
			events[l.CompletionEvent] = l.Key
			all = append(all, l)
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("level: catalog is empty")
	}
	sortLevels(all)
	return all, nil
}

func loadYAMLFile(fsys fs.FS, name string) ([]*Level, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("level: read %s: %w", name, err)
	}
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("level: parse %s: %w", name, err)
	}
	for _, l := range f.Levels {
		if err := validateLevel(l); err != nil {
			return nil, fmt.Errorf("level: %s: %w", name, err)
		}
	}
	return f.Levels, nil
}

var kindOrder = map[Kind]int{KindLevel: 0, KindMinigame: 1, KindCutscene: 2}
var tierOrder = map[Tier]int{TierGCSE: 0, TierALevel: 1, "": 2}

// sortLevels orders levels by kind, tier, then number.
func sortLevels(levels []*Level) {
	sort.SliceStable(levels, func(i, j int) bool {
		a, b := levels[i], levels[j]
		if kindOrder[a.Kind] != kindOrder[b.Kind] {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		if tierOrder[a.Tier] != tierOrder[b.Tier] {
			return tierOrder[a.Tier] < tierOrder[b.Tier]
		}
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		return a.Key < b.Key
	})
}

// source returns the filesystem a catalog is read from: dir when set,
// otherwise the built-in catalog.
func source(dir string) (fs.FS, error) {
	if dir == "" {
		return fs.Sub(builtin, "catalog")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("level: catalog dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("level: catalog dir %s is not a directory", dir)
	}
	return os.DirFS(filepath.Clean(dir)), nil
}
