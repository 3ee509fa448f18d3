package tasks

import "fmt"

// Factory constructs an unconfigured module instance.
type Factory func() Module

// Registry maps task names to module factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtin returns a registry with every built-in task registered.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(StroopName, func() Module { return NewStroop() })
	r.Register(CVCNamingName, func() Module { return NewCVCNaming() })
	r.Register(LetterMonitoringName, func() Module { return NewLetterMonitoring() })
	r.Register(MockName, func() Module { return NewMockTask() })
	return r
}

// Register adds a factory for a task name, replacing any existing one.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Create builds and configures a new module instance for a task name.
func (r *Registry) Create(name string, config map[string]any) (Module, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%q is not a registered task", name)
	}
	m := factory()
	if err := m.Configure(config); err != nil {
		return nil, fmt.Errorf("configuring task %q: %w", name, err)
	}
	return m, nil
}

// Names returns all registered task names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
