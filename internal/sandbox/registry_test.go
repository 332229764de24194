package sandbox_test

import (
	"testing"

	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/sandbox"
)

// stubRunner is a minimal Runner for registry tests.
type stubRunner struct {
	name      string
	runtimes  []string
	isolation string
}

func (s *stubRunner) Start(_ sandbox.Payload, _ string) (sandbox.Worker, error) {
	return nil, sandbox.ErrIsolation
}

func (s *stubRunner) Capabilities() sandbox.Capabilities {
	return sandbox.Capabilities{
		Name:      s.name,
		Isolation: s.isolation,
		Runtimes:  s.runtimes,
	}
}

func allRuntimes() []string {
	return []string{model.RuntimeJS, model.RuntimePython, model.RuntimeShell}
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := sandbox.NewRegistry()

	reg.Register(model.IsolationThread, &stubRunner{
		name: "goja", runtimes: []string{model.RuntimeJS}, isolation: model.IsolationThread,
	})
	reg.Register(model.IsolationProcess, &stubRunner{
		name: "subprocess", runtimes: allRuntimes(), isolation: model.IsolationProcess,
	})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d runners, want 2", len(list))
	}
	if list[0].Name != model.IsolationProcess || list[1].Name != model.IsolationThread {
		t.Errorf("List() order = [%s %s], want [process thread]", list[0].Name, list[1].Name)
	}
}

func TestRegistryResolveExplicit(t *testing.T) {
	reg := sandbox.NewRegistry()
	reg.Register(model.IsolationProcess, &stubRunner{
		name: "subprocess", runtimes: allRuntimes(), isolation: model.IsolationProcess,
	})

	rn, err := reg.Resolve(model.IsolationProcess, model.RuntimeShell)
	if err != nil {
		t.Fatalf("Resolve explicit: %v", err)
	}
	if rn.Capabilities().Name != "subprocess" {
		t.Errorf("resolved runner name = %q, want %q", rn.Capabilities().Name, "subprocess")
	}
}

func TestRegistryResolveExplicitNotRegistered(t *testing.T) {
	reg := sandbox.NewRegistry()

	if _, err := reg.Resolve(model.IsolationThread, model.RuntimeJS); err == nil {
		t.Error("expected error for unregistered runner, got nil")
	}
}

func TestRegistryResolveExplicitUnsupportedRuntime(t *testing.T) {
	reg := sandbox.NewRegistry()
	reg.Register(model.IsolationThread, &stubRunner{
		name: "goja", runtimes: []string{model.RuntimeJS}, isolation: model.IsolationThread,
	})

	if _, err := reg.Resolve(model.IsolationThread, model.RuntimePython); err == nil {
		t.Error("expected error for unsupported runtime, got nil")
	}
}

func TestRegistryResolveAuto(t *testing.T) {
	reg := sandbox.NewRegistry()
	reg.Register(model.IsolationThread, &stubRunner{
		name: "goja", runtimes: []string{model.RuntimeJS}, isolation: model.IsolationThread,
	})
	reg.Register(model.IsolationProcess, &stubRunner{
		name: "subprocess", runtimes: allRuntimes(), isolation: model.IsolationProcess,
	})

	tests := []struct {
		runtime      string
		expectedName string
	}{
		{model.RuntimeJS, "goja"},
		{model.RuntimePython, "subprocess"},
		{model.RuntimeShell, "subprocess"},
	}

	for _, tc := range tests {
		rn, err := reg.Resolve(model.IsolationAuto, tc.runtime)
		if err != nil {
			t.Errorf("Resolve(auto, %s): %v", tc.runtime, err)
			continue
		}
		if rn.Capabilities().Name != tc.expectedName {
			t.Errorf("Resolve(auto, %s) = %q, want %q", tc.runtime, rn.Capabilities().Name, tc.expectedName)
		}
	}
}

func TestRegistryResolveAutoFallsBackToProcess(t *testing.T) {
	reg := sandbox.NewRegistry()
	// No thread runner, as under the watchdog strategy.
	reg.Register(model.IsolationProcess, &stubRunner{
		name: "subprocess", runtimes: allRuntimes(), isolation: model.IsolationProcess,
	})

	rn, err := reg.Resolve(model.IsolationAuto, model.RuntimeJS)
	if err != nil {
		t.Fatalf("Resolve(auto, js): %v", err)
	}
	if rn.Capabilities().Isolation != model.IsolationProcess {
		t.Errorf("isolation = %q, want %q", rn.Capabilities().Isolation, model.IsolationProcess)
	}
}

func TestRegistryResolveAutoNothingRegistered(t *testing.T) {
	reg := sandbox.NewRegistry()

	if _, err := reg.Resolve(model.IsolationAuto, model.RuntimeShell); err == nil {
		t.Error("expected error when no runner is registered, got nil")
	}
}
