package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"

	"github.com/caplet-dev/caplet/internal/values"
)

// PluginInvoker is the slice of the plugin manager the engine needs.
type PluginInvoker interface {
	CallByName(ctx context.Context, plugin, function string, params []byte) ([]byte, error)
}

// Config tunes the engine.
type Config struct {
	// MaxConcurrentNodes caps parallel node invocations per execution.
	MaxConcurrentNodes int
}

// Engine validates workflows and drives executions: ready nodes are
// dispatched in parallel up to the concurrency cap, each node is a
// single plugin call, and a checkpoint is written after every node
// settles.
type Engine struct {
	invoker PluginInvoker
	store   CheckpointStore
	cfg     Config

	mu         sync.RWMutex
	workflows  map[values.WorkflowID]*Workflow
	executions map[values.ExecutionID]*execHandle
}

type execHandle struct {
	exec     *Execution
	workflow *Workflow

	mu      sync.Mutex
	running bool
	pause   bool
	cancel  bool
}

// NewEngine creates a workflow engine.
func NewEngine(invoker PluginInvoker, store CheckpointStore, cfg Config) *Engine {
	if cfg.MaxConcurrentNodes <= 0 {
		cfg.MaxConcurrentNodes = 4
	}
	return &Engine{
		invoker:    invoker,
		store:      store,
		cfg:        cfg,
		workflows:  make(map[values.WorkflowID]*Workflow),
		executions: make(map[values.ExecutionID]*execHandle),
	}
}

// Register validates and stores a workflow definition.
func (en *Engine) Register(w *Workflow) (values.WorkflowID, error) {
	if err := w.Validate(); err != nil {
		return values.WorkflowID{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	en.workflows[w.ID] = w
	return w.ID, nil
}

// Workflow returns a registered workflow.
func (en *Engine) Workflow(id values.WorkflowID) (*Workflow, error) {
	en.mu.RLock()
	defer en.mu.RUnlock()
	w, ok := en.workflows[id]
	if !ok {
		return nil, &WorkflowNotFoundError{ID: id}
	}
	return w, nil
}

// ListWorkflows returns every registered workflow.
func (en *Engine) ListWorkflows() []*Workflow {
	en.mu.RLock()
	defer en.mu.RUnlock()
	out := make([]*Workflow, 0, len(en.workflows))
	for _, w := range en.workflows {
		out = append(out, w)
	}
	return out
}

// NewExecution creates a pending execution of a workflow.
func (en *Engine) NewExecution(workflowID values.WorkflowID, input json.RawMessage) (values.ExecutionID, error) {
	w, err := en.Workflow(workflowID)
	if err != nil {
		return values.ExecutionID{}, err
	}
	exec := NewExecution(workflowID, input)
	en.mu.Lock()
	en.executions[exec.ID] = &execHandle{exec: exec, workflow: w}
	en.mu.Unlock()
	return exec.ID, nil
}

// Execution returns a handle's execution record.
func (en *Engine) Execution(id values.ExecutionID) (*Execution, error) {
	h, err := en.handle(id)
	if err != nil {
		return nil, err
	}
	return h.exec, nil
}

func (en *Engine) handle(id values.ExecutionID) (*execHandle, error) {
	en.mu.RLock()
	defer en.mu.RUnlock()
	h, ok := en.executions[id]
	if !ok {
		return nil, &ExecutionNotFoundError{ID: id}
	}
	return h, nil
}

// Run drives the execution until it reaches a terminal status or is
// paused. Calling Run on an already-running execution fails.
func (en *Engine) Run(ctx context.Context, id values.ExecutionID) error {
	h, err := en.handle(id)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return &InvalidStatusError{Current: values.ExecutionRunning, Expected: values.ExecutionPending}
	}
	h.running = true
	h.pause = false
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	if err := h.exec.transition(values.ExecutionRunning); err != nil {
		return err
	}
	return en.schedule(ctx, h)
}

// Pause stops scheduling new nodes; in-flight node calls complete.
func (en *Engine) Pause(id values.ExecutionID) error {
	h, err := en.handle(id)
	if err != nil {
		return err
	}
	if h.exec.Status() != values.ExecutionRunning {
		return &InvalidStatusError{Current: h.exec.Status(), Expected: values.ExecutionRunning}
	}
	h.mu.Lock()
	h.pause = true
	h.mu.Unlock()
	return nil
}

// Resume returns a paused execution to Running and continues driving
// it.
func (en *Engine) Resume(ctx context.Context, id values.ExecutionID) error {
	h, err := en.handle(id)
	if err != nil {
		return err
	}
	if h.exec.Status() != values.ExecutionPaused {
		return &InvalidStatusError{Current: h.exec.Status(), Expected: values.ExecutionPaused}
	}
	return en.Run(ctx, id)
}

// Cancel marks the execution cancelled. In-flight node calls finish but
// their results are discarded. An execution that is not currently
// running transitions immediately.
func (en *Engine) Cancel(id values.ExecutionID) error {
	h, err := en.handle(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.cancel = true
	running := h.running
	h.mu.Unlock()

	if !running {
		status := h.exec.Status()
		if status.IsTerminal() {
			return &InvalidStatusError{Current: status, Expected: values.ExecutionRunning}
		}
		return h.exec.transition(values.ExecutionCancelled)
	}
	return nil
}

// Restore rebuilds an execution from a persisted checkpoint. A
// checkpoint of an unfinished execution restores it as Paused; call
// Resume to continue it. A checkpoint with a terminal status restores
// that status.
func (en *Engine) Restore(ctx context.Context, execution values.ExecutionID, checkpoint values.CheckpointID) error {
	cp, err := en.store.Load(ctx, execution, checkpoint)
	if err != nil {
		return err
	}

	w, err := en.Workflow(cp.WorkflowID)
	if err != nil {
		return err
	}

	en.mu.Lock()
	h, ok := en.executions[execution]
	if !ok {
		h = &execHandle{
			exec:     &Execution{ID: cp.ExecutionID, WorkflowID: cp.WorkflowID, nodeResults: map[values.NodeID]NodeResult{}},
			workflow: w,
		}
		en.executions[execution] = h
	}
	en.mu.Unlock()

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return &InvalidStatusError{Current: values.ExecutionRunning, Expected: values.ExecutionPaused}
	}
	h.cancel = false
	h.pause = false
	h.mu.Unlock()

	h.exec.restore(cp)
	slog.Info("execution restored from checkpoint",
		"execution", execution, "checkpoint", checkpoint, "completed_nodes", len(cp.NodeResults))
	return nil
}

// Cleanup removes terminal executions, returning how many were dropped.
func (en *Engine) Cleanup() int {
	en.mu.Lock()
	defer en.mu.Unlock()
	removed := 0
	for id, h := range en.executions {
		if h.exec.Status().IsTerminal() {
			delete(en.executions, id)
			removed++
		}
	}
	return removed
}

type nodeOutcome struct {
	node   values.NodeID
	result NodeResult
}

// schedule is the coordinator loop: it owns the ready queue and
// in-degree bookkeeping, dispatches ready nodes up to the concurrency
// cap, and is the only writer of node results.
func (en *Engine) schedule(ctx context.Context, h *execHandle) error {
	w := h.workflow
	dependents := w.Dependents()

	// Rebuild readiness from whatever has already settled (fresh run or
	// checkpoint restore).
	inDegree := make(map[values.NodeID]int, len(w.Nodes))
	settled := make(map[values.NodeID]bool, len(w.Nodes))
	for id := range w.Nodes {
		if _, done := h.exec.Result(id); done {
			settled[id] = true
			continue
		}
		pending := 0
		for _, dep := range w.Edges[id] {
			if _, done := h.exec.Result(dep); !done {
				pending++
			}
		}
		inDegree[id] = pending
	}

	var ready []values.NodeID
	for id := range w.Nodes {
		if !settled[id] && inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	slots := make(chan struct{}, en.cfg.MaxConcurrentNodes)
	done := make(chan nodeOutcome, len(w.Nodes))
	outstanding := 0
	failed := false

	settle := func(node values.NodeID, result NodeResult) {
		h.exec.recordResult(node, result)
		settled[node] = true
		en.checkpoint(ctx, h)
		for _, dependent := range dependents[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 && !settled[dependent] {
				ready = append(ready, dependent)
			}
		}
	}

	for {
		h.mu.Lock()
		paused, cancelled := h.pause, h.cancel
		h.mu.Unlock()

		// Dispatch while there is room and no stop condition.
		for len(ready) > 0 && !paused && !cancelled && !failed {
			node := ready[0]

			if skipReason := en.skipReason(h, w, node); skipReason != "" {
				ready = ready[1:]
				settle(node, NodeResult{Status: NodeSkipped, Error: skipReason})
				continue
			}

			select {
			case slots <- struct{}{}:
				ready = ready[1:]
				outstanding++
				def := w.Nodes[node]
				go func() {
					defer func() { <-slots }()
					done <- nodeOutcome{node: def.ID, result: en.executeNode(ctx, h, def)}
				}()
			default:
				// All slots busy; wait for an outcome below.
			}
			if len(slots) == cap(slots) {
				break
			}
		}

		if outstanding == 0 {
			switch {
			case cancelled:
				_ = h.exec.transition(values.ExecutionCancelled)
				en.checkpoint(ctx, h)
				return nil
			case failed:
				en.checkpoint(ctx, h)
				return nil
			case paused:
				if err := h.exec.transition(values.ExecutionPaused); err != nil {
					return err
				}
				en.checkpoint(ctx, h)
				return nil
			case len(settled) == len(w.Nodes):
				_ = h.exec.transition(values.ExecutionCompleted)
				en.checkpoint(ctx, h)
				return nil
			case len(ready) == 0:
				// Unreachable for validated workflows.
				h.exec.fail("scheduler stalled with unfinished nodes")
				return &InvalidDefinitionError{Detail: "scheduler stalled with unfinished nodes"}
			default:
				continue
			}
		}

		outcome := <-done
		outstanding--

		h.mu.Lock()
		cancelled = h.cancel
		h.mu.Unlock()
		if cancelled {
			// Result discarded; loop drains remaining in-flight nodes.
			continue
		}

		if outcome.result.Status == NodeFailed {
			policy := w.Nodes[outcome.node].ErrorPolicy.kind()
			if policy == PolicySkip {
				settle(outcome.node, outcome.result)
				continue
			}
			settle(outcome.node, outcome.result)
			failed = true
			h.exec.fail(fmt.Sprintf("node %s failed: %s", outcome.node, outcome.result.Error))
			continue
		}
		settle(outcome.node, outcome.result)
	}
}

// skipReason decides whether a ready node must be skipped instead of
// run: some dependency did not complete, or a condition upstream
// evaluated false.
func (en *Engine) skipReason(h *execHandle, w *Workflow, node values.NodeID) string {
	for _, dep := range w.Edges[node] {
		result, ok := h.exec.Result(dep)
		if !ok {
			return "dependency " + dep.String() + " has no result"
		}
		if result.Status != NodeCompleted {
			return fmt.Sprintf("dependency %s is %s", dep, result.Status)
		}
		if w.Nodes[dep].Kind == KindCondition && !conditionHolds(result.Value) {
			return "condition " + dep.String() + " is false"
		}
	}
	return ""
}

func conditionHolds(value json.RawMessage) bool {
	var holds bool
	if err := json.Unmarshal(value, &holds); err != nil {
		return false
	}
	return holds
}

// executeNode runs one node to a terminal result, applying the node's
// retry policy.
func (en *Engine) executeNode(ctx context.Context, h *execHandle, node Node) NodeResult {
	switch node.Kind {
	case KindParallel, KindJoin:
		return NodeResult{Status: NodeCompleted, Value: json.RawMessage("null"), Attempts: 1}
	case KindCondition:
		return en.evaluateCondition(h, node)
	default:
		return en.invokeTask(ctx, h, node)
	}
}

func (en *Engine) evaluateCondition(h *execHandle, node Node) NodeResult {
	env := map[string]any{
		"input":   decodeJSON(h.exec.Input()),
		"results": en.upstreamResults(h, node),
		"config":  node.Config,
	}
	program, err := expr.Compile(node.Condition, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return NodeResult{Status: NodeFailed, Error: "condition compile failed: " + err.Error(), Attempts: 1}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return NodeResult{Status: NodeFailed, Error: "condition evaluation failed: " + err.Error(), Attempts: 1}
	}
	holds, _ := out.(bool)
	value := json.RawMessage("false")
	if holds {
		value = json.RawMessage("true")
	}
	return NodeResult{Status: NodeCompleted, Value: value, Attempts: 1}
}

func (en *Engine) invokeTask(ctx context.Context, h *execHandle, node Node) NodeResult {
	params, err := json.Marshal(map[string]any{
		"input":   decodeJSON(h.exec.Input()),
		"config":  node.Config,
		"results": en.upstreamResults(h, node),
	})
	if err != nil {
		return NodeResult{Status: NodeFailed, Error: "cannot encode node params: " + err.Error(), Attempts: 1}
	}

	policy := node.ErrorPolicy
	maxAttempts := 1
	if policy.kind() == PolicyRetry && policy.MaxRetries > 0 {
		maxAttempts = policy.MaxRetries + 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := en.invoker.CallByName(ctx, node.Plugin, node.Function, params)
		if err == nil {
			return NodeResult{Status: NodeCompleted, Value: normalizeJSON(out), Attempts: attempt}
		}
		lastErr = err

		if attempt < maxAttempts {
			delay := CalculateBackoff(policy.Backoff, attempt, policy.Delay, policy.MaxDelay)
			slog.InfoContext(ctx, "retrying workflow node",
				"execution", h.exec.ID,
				"node", node.ID,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return NodeResult{Status: NodeFailed, Error: ctx.Err().Error(), Attempts: attempt}
			case <-time.After(delay):
			}
		}
	}
	return NodeResult{Status: NodeFailed, Error: lastErr.Error(), Attempts: maxAttempts}
}

func (en *Engine) upstreamResults(h *execHandle, node Node) map[string]any {
	out := make(map[string]any)
	for _, dep := range h.workflow.Edges[node.ID] {
		if result, ok := h.exec.Result(dep); ok && result.Status == NodeCompleted {
			out[dep.String()] = decodeJSON(result.Value)
		}
	}
	return out
}

// checkpoint persists a snapshot after each node settles. Persistence
// failures are logged, not fatal: the execution itself is healthy.
func (en *Engine) checkpoint(ctx context.Context, h *execHandle) {
	cp := h.exec.snapshot()
	if err := en.store.Save(ctx, &cp); err != nil {
		slog.WarnContext(ctx, "checkpoint write failed",
			"execution", h.exec.ID, "checkpoint", cp.ID, "error", err)
		return
	}
	h.exec.addCheckpoint(cp.ID)
}

func decodeJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}

func normalizeJSON(out []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(trimmed)
	return quoted
}
