package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/strandkit/strand/internal/petri"
	"github.com/strandkit/strand/pkg/api"
)

// ErrDefinitionNotFound is returned when no process definition is
// registered under a shape name.
var ErrDefinitionNotFound = errors.New("process definition not found")

// registeredDef pairs a process definition with its compiled net. The net
// is built once at registration and shared by every instance.
type registeredDef struct {
	def api.ProcessDefinition
	net *petri.Net
}

type definitionRegistry struct {
	mu     sync.RWMutex
	byName map[string]registeredDef
}

func newDefinitionRegistry() *definitionRegistry {
	return &definitionRegistry{
		byName: make(map[string]registeredDef),
	}
}

// Register compiles and validates a definition. Every action the shape
// performs must have a handler bound; a shape that fails to compile is
// rejected here, at load time, not at process start.
func (r *definitionRegistry) Register(def api.ProcessDefinition) error {
	net, err := petri.Build(def.Shape)
	if err != nil {
		return err
	}
	for _, action := range net.Actions() {
		if def.Handlers[action] == nil {
			return fmt.Errorf("shape %q performs %q but no handler is bound for it",
				def.Shape.Name, action)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Shape.Name]; exists {
		return fmt.Errorf("process definition already registered: %s", def.Shape.Name)
	}
	r.byName[def.Shape.Name] = registeredDef{def: def, net: net}
	return nil
}

func (r *definitionRegistry) Get(name string) (registeredDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rd, ok := r.byName[name]
	if !ok {
		return registeredDef{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, name)
	}
	return rd, nil
}
