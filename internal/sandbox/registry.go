package sandbox

import (
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/drafter/internal/model"
)

// autoPreference lists, per runtime, the isolation modes tried in order when
// a request asks for "auto". Runtimes not listed fall back to process.
var autoPreference = map[string][]string{
	model.RuntimeJS:     {model.IsolationThread, model.IsolationProcess},
	model.RuntimePython: {model.IsolationProcess},
	model.RuntimeShell:  {model.IsolationProcess},
}

// RunnerInfo pairs a runner name with its capabilities.
type RunnerInfo struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered runners keyed by isolation mode and resolves
// which one to use for a given request.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

// Register adds a runner under the given isolation mode.
func (r *Registry) Register(isolation string, rn Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[isolation] = rn
}

// Resolve returns the runner to use for the given isolation and runtime.
// For "auto" the first registered mode from autoPreference that supports the
// runtime wins.
func (r *Registry) Resolve(isolation, runtime string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if isolation == model.IsolationAuto {
		prefs, ok := autoPreference[runtime]
		if !ok {
			prefs = []string{model.IsolationProcess}
		}
		for _, iso := range prefs {
			if rn, ok := r.runners[iso]; ok && rn.Capabilities().Supports(runtime) {
				return rn, nil
			}
		}
		return nil, fmt.Errorf("no registered runner supports runtime %q", runtime)
	}

	rn, ok := r.runners[isolation]
	if !ok {
		return nil, fmt.Errorf("runner %q is not registered", isolation)
	}
	if !rn.Capabilities().Supports(runtime) {
		return nil, fmt.Errorf("runner %q does not support runtime %q", isolation, runtime)
	}
	return rn, nil
}

// List returns information about all registered runners, sorted by name
// for a stable API response.
func (r *Registry) List() []RunnerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]RunnerInfo, 0, len(r.runners))
	for name, rn := range r.runners {
		infos = append(infos, RunnerInfo{
			Name:         name,
			Capabilities: rn.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
