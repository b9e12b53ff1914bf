package runexec

import (
	"encoding/json"
	"net/http"
	"time"

	"workflowcore/internal/expr"
	"workflowcore/internal/interp"
	"workflowcore/internal/node"
)

// decodeInput decodes a NodeState's TransformedInput (falling back to
// RawInput) into scope.Input, the same precedence interp.Driver.scopeFor
// uses for structural nodes, so a leaf task's `.` in a ${ } expression
// sees its own resolved input rather than nil.
func decodeInput(st *node.State) any {
	var v any
	if len(st.TransformedInput) > 0 {
		_ = json.Unmarshal(st.TransformedInput, &v)
		return v
	}
	_ = json.Unmarshal(st.RawInput, &v)
	return v
}

// Deps bundles the external collaborators the leaf TaskExecutors need:
// an HTTP client, a secret resolver for call.http auth, a sub-workflow
// dispatcher for run.workflow, and an event publisher for emit. Any of
// these may be nil in a reduced deployment (e.g. a test harness that never
// exercises call.http need not set Secrets).
type Deps struct {
	Eval       *expr.Evaluator
	HTTPClient *http.Client
	Secrets    SecretResolver
	Dispatcher WorkflowDispatcher
	Publisher  EventPublisher
}

// NewDriver builds an interp.Driver with every TaskExecutor this package
// provides registered against it, the way the teacher's
// internal/workflows/runtime/options.go WithDefaultExecutors wires its
// ExecutorRegistry.
func NewDriver(deps Deps) *interp.Driver {
	eval := deps.Eval
	if eval == nil {
		eval = expr.NewEvaluator()
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return interp.NewDriver(
		&SetExecutor{Eval: eval},
		&RaiseExecutor{},
		&WaitExecutor{},
		&CallHTTPExecutor{Client: client, Secrets: deps.Secrets, Eval: eval},
		&RunShellExecutor{Eval: eval},
		&RunScriptExecutor{},
		&RunWorkflowExecutor{Dispatcher: deps.Dispatcher},
		&EmitExecutor{Publisher: deps.Publisher},
		&ListenExecutor{},
	)
}
