package multiagent

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

// Loader reads agent definitions from a directory of yaml files. Files are
// parsed defensively: a malformed file is logged and the last-known-good
// definition retained, so one bad edit never aborts loading.
type Loader struct {
	mu     sync.RWMutex
	dir    string
	agents map[string]*AgentDefinition
	logger *slog.Logger
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:    dir,
		agents: make(map[string]*AgentDefinition),
		logger: logger,
	}
}

// Load scans the directory and parses every .yaml/.yml file.
func (l *Loader) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read agents dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		l.loadFile(filepath.Join(l.dir, entry.Name()))
	}
	return nil
}

// loadFile parses one definition file into the map, keeping the prior entry
// on failure.
func (l *Loader) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Warn("failed to read agent file", "path", path, "error", err)
		return
	}

	var def AgentDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		l.logger.Warn("malformed agent file, keeping previous definition", "path", path, "error", err)
		return
	}
	if strings.TrimSpace(def.Name) == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	l.mu.Lock()
	l.agents[def.Name] = &def
	l.mu.Unlock()
}

// Get returns an agent by name. The backing file is re-read on every lookup
// so edits become visible without a restart.
func (l *Loader) Get(name string) (*AgentDefinition, bool) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			l.loadFile(path)
			break
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.agents[name]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

// List returns all loaded agents sorted by name.
func (l *Loader) List() []*AgentDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]*AgentDefinition, 0, len(l.agents))
	for _, def := range l.agents {
		result = append(result, def.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Put installs a definition programmatically. Used by tests and embedded
// setups without an agents directory.
func (l *Loader) Put(def *AgentDefinition) {
	if def == nil || def.Name == "" {
		return
	}
	l.mu.Lock()
	l.agents[def.Name] = def.Clone()
	l.mu.Unlock()
}
