package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// skipSignal is a dedicated sentinel type for a bypassed branch — never
// a magic string, so it can never collide with a real handler result.
// See spec §4.5 and the Design Notes on the skip-signal sentinel.
type skipSignal struct{}

// Skip is the package-level singleton skip-signal value.
var Skip Value = skipSignal{}

func isSkip(v Value) bool {
	_, ok := v.(skipSignal)
	return ok
}

// mergeSubstr identifies merge-type nodes, which receive the full list
// of buffered inputs rather than just the first one.
const mergeSubstr = "merge"

// queueItem is one unit of scheduled work: a node name plus a snapshot
// of its buffered inputs at enqueue time.
type queueItem struct {
	name   string
	inputs []Value
}

// Engine runs a single workflow to completion. It owns all per-run
// mutable state (queue, input buffers, execution state) exclusively —
// concurrent runs never share an Engine, matching spec §5's isolation
// requirement.
type Engine struct {
	payload   WorkflowPayload
	nodeMap   map[string]Node
	startName string

	inDegree    map[string]int
	inputBuffer map[string][]Value
	state       map[string]Value

	queue []queueItem

	client   httpDoer
	recorder ExecutionRecorder
}

// ExecutionRecorder receives telemetry callbacks for node, workflow, and
// HTTP task execution, plus span bracketing for tracing backends. The
// default recorder, NoopRecorder, makes every call a no-op, so callers
// that don't care about telemetry pay nothing extra.
type ExecutionRecorder interface {
	RecordNodeExecution(ctx context.Context, nodeName, nodeType string, duration time.Duration, status string)
	RecordWorkflowExecution(ctx context.Context, workflowName string, duration time.Duration, status string, nodeCount int)
	RecordHTTPCall(ctx context.Context, method, url string, statusCode int, duration time.Duration)

	// StartSpan opens a span named name and returns the context carrying
	// it plus a function that ends it, recording err (if non-nil) as the
	// span's error status. Callers always invoke the returned function,
	// typically via defer.
	StartSpan(ctx context.Context, name string) (context.Context, func(err error))
}

// NoopRecorder discards every recorded event and never opens a real span.
type NoopRecorder struct{}

func (NoopRecorder) RecordNodeExecution(context.Context, string, string, time.Duration, string)  {}
func (NoopRecorder) RecordWorkflowExecution(context.Context, string, time.Duration, string, int) {}
func (NoopRecorder) RecordHTTPCall(context.Context, string, string, int, time.Duration)          {}

func (NoopRecorder) StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithHTTPClient overrides the HTTP client used by the http task
// primitive (default http.DefaultClient). Tests substitute a fake.
func WithHTTPClient(c httpDoer) Option {
	return func(e *Engine) { e.client = c }
}

// WithRecorder attaches telemetry instrumentation.
func WithRecorder(r ExecutionRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New constructs an Engine for a single run of payload. It validates
// structural invariants (unique start node, no orphan connection
// references) up front so malformed workflows fail before any node
// executes, per spec §7's Structural error class.
func New(payload WorkflowPayload, opts ...Option) (*Engine, error) {
	if err := validateConnections(payload.Nodes, payload.Connections); err != nil {
		return nil, err
	}
	startName, err := findStartNode(payload.Nodes)
	if err != nil {
		return nil, err
	}

	nodeMap := payload.NodesByName()
	inDegree := computeInDegree(payload.Nodes, payload.Connections, startName)

	inputBuffer := make(map[string][]Value, len(payload.Nodes))
	for _, n := range payload.Nodes {
		inputBuffer[n.Name] = nil
	}

	e := &Engine{
		payload:     payload,
		nodeMap:     nodeMap,
		startName:   startName,
		inDegree:    inDegree,
		inputBuffer: inputBuffer,
		state:       make(map[string]Value, len(payload.Nodes)),
		client:      http.DefaultClient,
		recorder:    NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) httpClient() httpDoer { return e.client }

// State returns the execution state accumulated so far. Safe to call
// after Run returns; must not be called concurrently with Run.
func (e *Engine) State() map[string]Value { return e.state }

// outputPorts returns the node's connections["main"] ports, or nil if
// the node has no outgoing connections.
func (e *Engine) outputPorts(nodeName string) [][]ConnectionTarget {
	byType, ok := e.payload.Connections[nodeName]
	if !ok {
		return nil
	}
	return byType["main"]
}

// enqueueIfReady schedules target once its input buffer has accumulated
// exactly in_degree[target] inputs — never more than once, per the
// enqueue-at-most-once invariant. deliver does the appending.
func (e *Engine) enqueueIfReady(target string) {
	if len(e.inputBuffer[target]) == e.inDegree[target] {
		e.queue = append(e.queue, queueItem{name: target, inputs: e.inputBuffer[target]})
	}
}

func (e *Engine) deliver(target string, value Value) {
	e.inputBuffer[target] = append(e.inputBuffer[target], value)
	e.enqueueIfReady(target)
}

// propagateSkip sends Skip to every child of node, across every output
// port, used for skipped and errored nodes alike so downstream joins
// always make progress.
func (e *Engine) propagateSkip(nodeName string) {
	for _, port := range e.outputPorts(nodeName) {
		for _, target := range port {
			e.deliver(target.Node, Skip)
		}
	}
}

// Run executes the workflow to completion, seeding the start node with
// the given inputs and following the FIFO ready-queue walk described in
// spec §4.5. It returns the full execution state: one entry per
// reachable node, a {"status":"skipped"} marker for bypassed branches,
// an {"error": ...} marker for failed nodes, and a cycle/stuck-node
// marker for anything that never ran. If ctx is cancelled, Run stops
// after the node in progress and returns the partial state with ctx's
// error; no stuck-node markers are added in that case.
func (e *Engine) Run(ctx context.Context, inputs map[string]Value) (map[string]Value, error) {
	runStart := time.Now()

	ctx, endSpan := e.recorder.StartSpan(ctx, "workflow.run")
	var runErr error
	defer func() { endSpan(runErr) }()

	seed := map[string]Value{}
	for k, v := range inputs {
		seed[k] = v
	}
	e.inputBuffer[e.startName] = append(e.inputBuffer[e.startName], Value(seed))
	e.enqueueIfReady(e.startName)

	for len(e.queue) > 0 {
		item := e.queue[0]
		e.queue = e.queue[1:]
		e.step(ctx, item)

		if err := ctx.Err(); err != nil {
			runErr = err
			e.recorder.RecordWorkflowExecution(ctx, e.payload.Name, time.Since(runStart), "cancelled", len(e.state))
			return e.state, err
		}
	}

	e.reconcileStuckNodes()

	e.recorder.RecordWorkflowExecution(ctx, e.payload.Name, time.Since(runStart), "completed", len(e.state))
	return e.state, nil
}

// step executes a single dequeued node: skip detection, input shaping,
// parameter resolution, dispatch, state write, and active/skip
// propagation, all as one atomic unit with no interleaving from another
// node's execution (spec §4.5's ordering guarantee).
func (e *Engine) step(ctx context.Context, item queueItem) {
	allSkipped := true
	for _, in := range item.inputs {
		if !isSkip(in) {
			allSkipped = false
			break
		}
	}
	if allSkipped {
		e.state[item.name] = map[string]Value{"status": "skipped"}
		e.propagateSkip(item.name)
		return
	}

	node := e.nodeMap[item.name]

	validInputs := make([]Value, 0, len(item.inputs))
	for _, in := range item.inputs {
		if !isSkip(in) {
			validInputs = append(validInputs, in)
		}
	}

	var inputData Value
	if strings.Contains(node.Type, mergeSubstr) {
		inputData = validInputs
	} else if len(validInputs) > 0 {
		inputData = validInputs[0]
	} else {
		inputData = map[string]Value{}
	}

	nodeCtx, endSpan := e.recorder.StartSpan(ctx, "node."+node.Name)
	nodeStart := time.Now()
	result, outputIndex, err := e.execute(nodeCtx, node, inputData)
	duration := time.Since(nodeStart)
	endSpan(err)

	if err != nil {
		slog.Warn("node execution failed", "node", item.name, "type", node.Type, "error", err)
		e.state[item.name] = map[string]Value{"error": err.Error()}
		e.recorder.RecordNodeExecution(ctx, item.name, node.Type, duration, "error")
		e.propagateSkip(item.name)
		return
	}

	e.state[item.name] = result
	e.recorder.RecordNodeExecution(ctx, item.name, node.Type, duration, "completed")

	ports := e.outputPorts(item.name)
	for i, port := range ports {
		if i == outputIndex {
			for _, target := range port {
				e.deliver(target.Node, result)
			}
		} else {
			for _, target := range port {
				e.deliver(target.Node, Skip)
			}
		}
	}
}

// execute resolves the node's parameters against the current execution
// state and dispatches to the registered handler. Disabled nodes bypass
// the handler entirely and pass their input through on port 0.
func (e *Engine) execute(ctx context.Context, node Node, inputData Value) (Value, int, error) {
	if node.Disabled {
		return inputData, 0, nil
	}

	resolvedParams, err := ResolveAll(e.state, Value(node.Parameters), controlFlowSkipKeys)
	if err != nil {
		return nil, 0, fmt.Errorf("resolving parameters for node %q: %w", node.Name, err)
	}
	params, _ := resolvedParams.(map[string]Value)

	handler := getHandler(node.Type)
	return handler(ctx, params, inputData, e)
}

// controlFlowSkipKeys names the parameter keys whose sub-trees belong to
// a control-flow node's nested sub-task bodies (loop bodies, switch
// branch payloads) and must not be resolved in the parent node's own
// scope — they are resolved later, inside the sub-task's own execution.
// See spec §4.2.
var controlFlowSkipKeys = map[string]bool{
	"loopBody": true,
	"branches": true,
}

// reconcileStuckNodes marks every node that never received an entry in
// execution_state — the result of a cycle or an unreachable island —
// with the stuck-node error, per spec §4.5's post-run reconciliation.
func (e *Engine) reconcileStuckNodes() {
	for name := range e.nodeMap {
		if _, ok := e.state[name]; !ok {
			e.state[name] = map[string]Value{"error": "Node never executed (possible cycle or missing input)"}
		}
	}
}
