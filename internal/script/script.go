// Package script evaluates JavaScript diagram descriptions with goja. A
// script declares its diagram through a small set of host bindings:
//
//	diagram("Web Service", "LR")
//	var lb = node("lb", "load balancer", "ELB")
//	cluster("app", function () { node("web", "web", "EC2") })
//	edge(lb, "web")
//
// Evaluation can be interrupted from another goroutine at any bytecode
// boundary; host bindings that block (sleep) wake up on interrupt.
package script

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/seantiz/drafter/internal/render"
)

// ErrInterrupted is wrapped by errors from an interrupted evaluation.
var ErrInterrupted = errors.New("script interrupted")

// maxSleep caps a single sleep() call.
const maxSleep = 10 * time.Minute

// prelude defines the bindings that need JavaScript control flow.
const prelude = `
function cluster(name, fn) {
	if (typeof fn !== "function") {
		throw new TypeError("cluster: expected (name, function)");
	}
	var outer = __enterCluster(name);
	try {
		fn();
	} finally {
		__leaveCluster(outer);
	}
}
`

// Error is a failed evaluation with the engine's stack trace.
type Error struct {
	Message     string
	Trace       string
	Interrupted bool
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	if e.Interrupted {
		return ErrInterrupted
	}
	return nil
}

// Evaluator runs one script. It is not reusable across scripts.
type Evaluator struct {
	vm      *goja.Runtime
	graph   render.Graph
	cluster string
	logf    func(line string)

	once   sync.Once
	wake   chan struct{}
	mu     sync.Mutex
	reason string
}

// New creates an evaluator with a fresh VM. logf receives log() output and may be nil.
func New(logf func(line string)) *Evaluator {
	e := &Evaluator{
		vm:    goja.New(),
		graph: render.Graph{Name: "diagram", Direction: render.DirectionLR},
		logf:  logf,
		wake:  make(chan struct{}),
	}
	e.bind()
	return e
}

// Interrupt stops the evaluation. It is safe to call from any goroutine, more
// than once, and before Run starts.
func (e *Evaluator) Interrupt(reason string) {
	e.once.Do(func() {
		e.mu.Lock()
		e.reason = reason
		e.mu.Unlock()
		close(e.wake)
		e.vm.Interrupt(reason)
	})
}

// Run evaluates src and returns the declared graph.
func (e *Evaluator) Run(src string) (*render.Graph, error) {
	if _, err := e.vm.RunString(src); err != nil {
		return nil, e.classify(err)
	}
	// An interrupt that lands after the last instruction still counts.
	select {
	case <-e.wake:
		return nil, &Error{Message: "interrupted: " + e.interruptReason(), Interrupted: true}
	default:
	}
	if err := e.graph.Validate(); err != nil {
		return nil, &Error{Message: err.Error()}
	}
	g := e.graph
	return &g, nil
}

func (e *Evaluator) interruptReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

func (e *Evaluator) classify(err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return &Error{
			Message:     "interrupted: " + e.interruptReason(),
			Trace:       ie.String(),
			Interrupted: true,
		}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &Error{Message: ex.Error(), Trace: ex.String()}
	}
	return &Error{Message: err.Error()}
}

func (e *Evaluator) bind() {
	must := func(name string, v any) {
		if err := e.vm.Set(name, v); err != nil {
			panic(fmt.Sprintf("bind %s: %v", name, err))
		}
	}
	must("diagram", e.jsDiagram)
	must("node", e.jsNode)
	must("edge", e.jsEdge)
	must("__enterCluster", e.jsEnterCluster)
	must("__leaveCluster", e.jsLeaveCluster)
	must("sleep", e.jsSleep)
	must("log", e.jsLog)
	if _, err := e.vm.RunString(prelude); err != nil {
		panic(fmt.Sprintf("load prelude: %v", err))
	}
}

func (e *Evaluator) jsDiagram(call goja.FunctionCall) goja.Value {
	if name := optString(call, 0); name != "" {
		e.graph.Name = name
	}
	if dir := strings.ToUpper(optString(call, 1)); dir != "" {
		if dir != render.DirectionLR && dir != render.DirectionTB {
			panic(e.vm.NewTypeError("diagram: direction must be LR or TB, got %q", dir))
		}
		e.graph.Direction = dir
	}
	return goja.Undefined()
}

func (e *Evaluator) jsNode(call goja.FunctionCall) goja.Value {
	id := optString(call, 0)
	if id == "" {
		panic(e.vm.NewTypeError("node: id is required"))
	}
	if e.graph.HasNode(id) {
		panic(e.vm.NewTypeError("node: duplicate id %q", id))
	}
	label := optString(call, 1)
	if label == "" {
		label = id
	}
	e.graph.Nodes = append(e.graph.Nodes, render.Node{
		ID:      id,
		Label:   label,
		Kind:    optString(call, 2),
		Cluster: e.cluster,
	})
	return e.vm.ToValue(id)
}

func (e *Evaluator) jsEdge(call goja.FunctionCall) goja.Value {
	from, to := optString(call, 0), optString(call, 1)
	for _, id := range []string{from, to} {
		if !e.graph.HasNode(id) {
			panic(e.vm.NewTypeError("edge: unknown node %q", id))
		}
	}
	e.graph.Edges = append(e.graph.Edges, render.Edge{From: from, To: to, Label: optString(call, 2)})
	return goja.Undefined()
}

func (e *Evaluator) jsEnterCluster(call goja.FunctionCall) goja.Value {
	name := optString(call, 0)
	if name == "" {
		panic(e.vm.NewTypeError("cluster: name is required"))
	}
	outer := e.cluster
	e.cluster = name
	return e.vm.ToValue(outer)
}

func (e *Evaluator) jsLeaveCluster(call goja.FunctionCall) goja.Value {
	e.cluster = optString(call, 0)
	return goja.Undefined()
}

// jsSleep blocks the VM goroutine in host code, which a VM interrupt alone
// cannot preempt; it also waits on the wake channel.
func (e *Evaluator) jsSleep(call goja.FunctionCall) goja.Value {
	ms := call.Argument(0).ToInteger()
	d := min(time.Duration(ms)*time.Millisecond, maxSleep)
	if d <= 0 {
		return goja.Undefined()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.wake:
	}
	return goja.Undefined()
}

func (e *Evaluator) jsLog(call goja.FunctionCall) goja.Value {
	if e.logf == nil {
		return goja.Undefined()
	}
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = a.String()
	}
	e.logf(strings.Join(parts, " "))
	return goja.Undefined()
}

func optString(call goja.FunctionCall, i int) string {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
