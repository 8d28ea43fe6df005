// Package persona loads assistant personas from YAML files. A persona
// sets the system prompt and may restrict the tool set.
package persona

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Persona struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"systemPrompt"`
	AllowedTools []string `yaml:"allowedTools"`
}

// Default is the built-in persona used when none is configured.
func Default() Persona {
	return Persona{
		Name:        "assistant",
		Description: "General-purpose personal assistant",
		SystemPrompt: "You are GigaBot, a capable personal assistant. " +
			"Be direct and concise. Use your tools when they help; " +
			"do not describe a tool call you did not make.",
	}
}

// LoadFromDirectory reads persona definitions from *.yaml / *.yml files.
// Unreadable or invalid files are logged and skipped.
func LoadFromDirectory(dir string, logger *slog.Logger) ([]Persona, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("personas directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read personas dir: %w", err)
	}

	var personas []Persona
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read persona file", "path", path, "err", err)
			continue
		}

		var p Persona
		if err := yaml.Unmarshal(data, &p); err != nil {
			logger.Warn("cannot parse persona file", "path", path, "err", err)
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if p.SystemPrompt == "" {
			logger.Warn("persona has no systemPrompt, skipping", "path", path)
			continue
		}

		logger.Info("loaded persona", "name", p.Name, "path", path)
		personas = append(personas, p)
	}

	return personas, nil
}

// Library holds the built-in default plus personas loaded from disk.
type Library struct {
	mu       sync.RWMutex
	personas map[string]Persona
}

func NewLibrary(dir string, logger *slog.Logger) *Library {
	lib := &Library{personas: map[string]Persona{}}
	def := Default()
	lib.personas[def.Name] = def

	loaded, err := LoadFromDirectory(dir, logger)
	if err != nil {
		logger.Warn("persona directory not loaded", "dir", dir, "err", err)
	}
	for _, p := range loaded {
		lib.personas[p.Name] = p
	}
	return lib
}

func (l *Library) Get(name string) (Persona, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.personas[name]
	return p, ok
}

func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.personas))
	for name := range l.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
