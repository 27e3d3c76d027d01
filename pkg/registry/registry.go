// Package registry maps workflow names to runner factories so a worker can
// instantiate workflow bodies requested over the event bus.
package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sync"

	"github.com/fermata-dev/fermata/pkg/workflow"
)

// RunnerFactory builds the body for one named workflow type.
type RunnerFactory interface {
	// Name is the workflow name the factory serves.
	Name() string

	// Create builds a fresh runner configured for one workflow instance.
	Create(config map[string]any) (workflow.Runner, error)
}

type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	factories map[string]RunnerFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[string]RunnerFactory),
	}
}

// Register makes a factory available under its own name. A later
// registration with the same name replaces the earlier one.
func (r *Registry) Register(factory RunnerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.Name()] = factory
}

// Create builds a runner for the named workflow type.
func (r *Registry) Create(name string, config map[string]any) (workflow.Runner, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("workflow '%s' not registered", name)
	}

	return factory.Create(config)
}

// IsRegistered reports whether a factory exists for the named workflow.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[name]

	return ok
}

// Available lists the registered workflow names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	return names
}

// LoadPlugins registers every runner factory found under
// <pluginsPath>/runners. Each plugin must export a Runner symbol
// implementing RunnerFactory.
func (r *Registry) LoadPlugins(pluginsPath string) error {
	rootPath := pluginsPath + "/runners"
	root := os.DirFS(rootPath)

	pluginPaths, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return err
	}

	logger := r.logger.With(slog.String("path", rootPath))
	logger.Info("Loading runner plugins")

	for _, p := range pluginPaths {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		symbol, err := plg.Lookup("Runner")
		if err != nil {
			return fmt.Errorf("failed to look up Runner symbol in %s: %w", p, err)
		}

		factory, ok := symbol.(RunnerFactory)
		if !ok {
			return fmt.Errorf("plugin %s does not export a runner factory", p)
		}

		r.Register(factory)
		logger.Info("Loaded runner plugin", slog.String("plugin", p))
	}

	return nil
}
