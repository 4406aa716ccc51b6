package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Manager loads workflow definitions from a directory and runs them by name.
// On a name collision between a .yaml and a .yml file, .yaml wins.
type Manager struct {
	mu        sync.RWMutex
	dir       string
	workflows map[string]*Definition
	engine    *Engine
	logger    *slog.Logger
}

// NewManager creates a manager rooted at dir, executing through engine.
func NewManager(dir string, engine *Engine, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:       dir,
		workflows: make(map[string]*Definition),
		engine:    engine,
		logger:    logger,
	}
}

// Load scans the directory and parses every workflow file. Malformed files
// are logged and the last-known-good definition retained.
func (m *Manager) Load() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read workflows dir: %w", err)
	}

	// .yml first so a same-named .yaml overwrites it.
	for _, ext := range []string{".yml", ".yaml"} {
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
				continue
			}
			m.loadFile(filepath.Join(m.dir, entry.Name()))
		}
	}
	return nil
}

func (m *Manager) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		m.logger.Warn("failed to read workflow file", "path", path, "error", err)
		return
	}

	// Workflows are enabled unless the file says otherwise.
	def := Definition{Enabled: true}
	if err := yaml.Unmarshal(data, &def); err != nil {
		m.logger.Warn("malformed workflow file, keeping previous definition", "path", path, "error", err)
		return
	}
	if strings.TrimSpace(def.Name) == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	m.mu.Lock()
	m.workflows[def.Name] = &def
	m.mu.Unlock()
}

// Put installs a definition programmatically.
func (m *Manager) Put(def *Definition) {
	if def == nil || def.Name == "" {
		return
	}
	m.mu.Lock()
	m.workflows[def.Name] = def.Clone()
	m.mu.Unlock()
}

// Get returns a workflow by name.
func (m *Manager) Get(name string) (*Definition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.workflows[name]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

// List returns all workflows sorted by name.
func (m *Manager) List() []*Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Definition, 0, len(m.workflows))
	for _, def := range m.workflows {
		result = append(result, def.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ErrUnknownWorkflow reports a Run against a name that is not loaded.
type ErrUnknownWorkflow struct{ Name string }

func (e *ErrUnknownWorkflow) Error() string {
	return fmt.Sprintf("unknown workflow: %s", e.Name)
}

// ErrWorkflowDisabled reports a Run against a disabled workflow.
type ErrWorkflowDisabled struct{ Name string }

func (e *ErrWorkflowDisabled) Error() string {
	return fmt.Sprintf("workflow disabled: %s", e.Name)
}

// Run executes a workflow by name with the given context payload.
func (m *Manager) Run(ctx context.Context, name string, workflowCtx map[string]any) ([]StepResult, error) {
	def, ok := m.Get(name)
	if !ok {
		return nil, &ErrUnknownWorkflow{Name: name}
	}
	if !def.Enabled {
		return nil, &ErrWorkflowDisabled{Name: name}
	}
	m.logger.Info("workflow started", "workflow", name, "steps", len(def.Steps))
	results := m.engine.Run(ctx, def, workflowCtx)
	m.logger.Info("workflow finished", "workflow", name, "results", len(results))
	return results, nil
}

// Summarize renders step results as a short human-readable report.
func Summarize(name string, results []StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %q finished:", name)
	for _, r := range results {
		fmt.Fprintf(&b, "\n- %s: %s", r.Step, r.Status)
		if r.Error != "" {
			fmt.Fprintf(&b, " (%s)", r.Error)
		}
		if r.Reason != "" {
			fmt.Fprintf(&b, " (%s)", r.Reason)
		}
	}
	return b.String()
}
