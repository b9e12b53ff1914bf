// Package node holds the parsed Task AST for a Serverless Workflow DSL v1.0
// document and the compiled Node<T> graph derived from it. Parsing accepts
// YAML or JSON text (gopkg.in/yaml.v3 decodes both); compilation assigns
// each task a canonical position.Position and builds a flat index for O(1)
// resumption, mirroring the shape of the teacher's
// internal/workflows/translator.go CompileExecutionPlan pass, generalized
// from Station's flat state list to the DSL's recursively nested tasks.
package node

import "encoding/json"

// Kind identifies which of the DSL's task variants a Task carries.
type Kind string

const (
	KindDo       Kind = "do"
	KindSwitch   Kind = "switch"
	KindFor      Kind = "for"
	KindTry      Kind = "try"
	KindSet      Kind = "set"
	KindRaise    Kind = "raise"
	KindWait     Kind = "wait"
	KindCallHTTP Kind = "call.http"
	KindCallGRPC Kind = "call.grpc"
	KindRunShell Kind = "run.shell"
	KindRunScript Kind = "run.script"
	KindRunWorkflow Kind = "run.workflow"
	KindEmit     Kind = "emit"
	KindListen   Kind = "listen"
	KindFork     Kind = "fork"
)

// Export describes a task's `export.as` clause: an expression evaluated
// against the task's transformed output; an object result replaces the
// task's own NodeState.Context.
type Export struct {
	As string `yaml:"as" json:"as"`
}

// TransformSpec models the task-level `input`/`output` transform
// blocks (schema validation plus a `from` expression).
type TransformSpec struct {
	Schema json.RawMessage `yaml:"schema,omitempty" json:"schema,omitempty"`
	From   string          `yaml:"from,omitempty" json:"from,omitempty"`
}

// Task is one entry of a `do` block: a name plus exactly one populated
// variant field, selected by Kind. Unknown/unused variant fields are left
// zero-valued; the compiler never inspects fields outside the task's Kind.
type Task struct {
	Name string `yaml:"-" json:"-"`
	Kind Kind   `yaml:"-" json:"-"`

	Then   string         `yaml:"then,omitempty" json:"then,omitempty"`
	If     string         `yaml:"if,omitempty" json:"if,omitempty"`
	Input  *TransformSpec `yaml:"input,omitempty" json:"input,omitempty"`
	Output *TransformSpec `yaml:"output,omitempty" json:"output,omitempty"`
	Export *Export        `yaml:"export,omitempty" json:"export,omitempty"`
	Timeout string        `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Do     []Task `yaml:"-" json:"-"`
	Switch []SwitchCase `yaml:"-" json:"-"`

	For *ForSpec `yaml:"-" json:"-"`

	Try     []Task `yaml:"-" json:"-"`
	Catch   *CatchSpec `yaml:"-" json:"-"`

	Set map[string]any `yaml:"-" json:"-"`

	Raise *RaiseSpec `yaml:"-" json:"-"`

	Wait *WaitSpec `yaml:"-" json:"-"`

	Call *CallSpec `yaml:"-" json:"-"`
	Run  *RunSpec  `yaml:"-" json:"-"`

	Fork *ForkSpec `yaml:"-" json:"-"`

	Emit   *EmitSpec   `yaml:"-" json:"-"`
	Listen *ListenSpec `yaml:"-" json:"-"`
}

// SwitchCase is one ordered entry of a `switch` task; the first case whose
// When expression evaluates truthy wins, falling back to the case with an
// empty When (the default) if present.
type SwitchCase struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`
	Then string `yaml:"then,omitempty" json:"then,omitempty"`
}

// ForSpec models `for.in`/`for.each`/`for.at`/`for.while` plus the loop body.
type ForSpec struct {
	In    string `yaml:"in" json:"in"`
	Each  string `yaml:"each,omitempty" json:"each,omitempty"`
	At    string `yaml:"at,omitempty" json:"at,omitempty"`
	While string `yaml:"while,omitempty" json:"while,omitempty"`
	Do    []Task `yaml:"do" json:"do"`
}

// CatchSpec models a `try` task's `catch` block: error matching predicates,
// an optional retry policy, and a recovery `do` block.
type CatchSpec struct {
	Errors  *ErrorMatch  `yaml:"errors,omitempty" json:"errors,omitempty"`
	As      string       `yaml:"as,omitempty" json:"as,omitempty"`
	When    string       `yaml:"when,omitempty" json:"when,omitempty"`
	ExceptWhen string    `yaml:"exceptWhen,omitempty" json:"exceptWhen,omitempty"`
	Retry   *RetryPolicy `yaml:"retry,omitempty" json:"retry,omitempty"`
	Do      []Task       `yaml:"do,omitempty" json:"do,omitempty"`
}

// ErrorMatch matches a WorkflowError by type URI glob, HTTP-style status,
// or instance glob, per spec §7's `errors.with` semantics.
type ErrorMatch struct {
	With struct {
		Type     string `yaml:"type,omitempty" json:"type,omitempty"`
		Status   int    `yaml:"status,omitempty" json:"status,omitempty"`
		Instance string `yaml:"instance,omitempty" json:"instance,omitempty"`
	} `yaml:"with" json:"with"`
}

// RetryPolicy models limit/delay/backoff as laid out in spec §4.3.4.
type RetryPolicy struct {
	Limit struct {
		Attempt struct {
			Count    int    `yaml:"count,omitempty" json:"count,omitempty"`
			Duration string `yaml:"duration,omitempty" json:"duration,omitempty"`
		} `yaml:"attempt,omitempty" json:"attempt,omitempty"`
		Duration string `yaml:"duration,omitempty" json:"duration,omitempty"`
	} `yaml:"limit,omitempty" json:"limit,omitempty"`
	Delay   string `yaml:"delay,omitempty" json:"delay,omitempty"`
	Backoff struct {
		Kind   string `yaml:"kind,omitempty" json:"kind,omitempty"` // constant|linear|exponential
		Jitter bool   `yaml:"jitter,omitempty" json:"jitter,omitempty"`
	} `yaml:"backoff,omitempty" json:"backoff,omitempty"`
}

// RaiseSpec models a `raise` task's synthesized WorkflowError.
type RaiseSpec struct {
	Error struct {
		Type   string `yaml:"type" json:"type"`
		Title  string `yaml:"title,omitempty" json:"title,omitempty"`
		Status int    `yaml:"status,omitempty" json:"status,omitempty"`
		Detail string `yaml:"detail,omitempty" json:"detail,omitempty"`
	} `yaml:"error" json:"error"`
}

// WaitSpec models a `wait` task's structured or ISO-8601 duration.
type WaitSpec struct {
	Duration any `yaml:"-" json:"-"` // string (ISO-8601) or map (structured)
}

// CallSpec models `call: http`/`call: grpc` tasks with their `with` args.
type CallSpec struct {
	Function string         `yaml:"function" json:"function"`
	With     map[string]any `yaml:"with,omitempty" json:"with,omitempty"`
}

// RunSpec models `run.shell`/`run.script`/`run.workflow` tasks.
type RunSpec struct {
	Shell    *RunShellSpec    `yaml:"shell,omitempty" json:"shell,omitempty"`
	Script   *RunScriptSpec   `yaml:"script,omitempty" json:"script,omitempty"`
	Workflow *RunWorkflowSpec `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	Await    *bool            `yaml:"await,omitempty" json:"await,omitempty"`
	Return   string           `yaml:"return,omitempty" json:"return,omitempty"` // stdout|stderr|code|all
}

type RunShellSpec struct {
	Command   string            `yaml:"command" json:"command"`
	Arguments map[string]any    `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
}

type RunScriptSpec struct {
	Language  string            `yaml:"language" json:"language"` // starlark|...
	Code      string            `yaml:"code,omitempty" json:"code,omitempty"`
	Source    string            `yaml:"source,omitempty" json:"source,omitempty"`
	Arguments map[string]any    `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
}

type RunWorkflowSpec struct {
	Name    string         `yaml:"name" json:"name"`
	Version string         `yaml:"version,omitempty" json:"version,omitempty"`
	Input   map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
}

// ForkSpec models a fan-out into branches, run one after another in
// declaration order, that must all complete (or, with Compete, the first
// branch to succeed wins) before the fork's output is produced.
type ForkSpec struct {
	Compete  bool           `yaml:"compete,omitempty" json:"compete,omitempty"`
	Branches []Task         `yaml:"branches" json:"branches"`
}

// EmitSpec models an `emit` task's event, published to the broker fire-and
// forget (no suspension), per spec §4.3.11.
type EmitSpec struct {
	Event struct {
		With struct {
			Source  string         `yaml:"source,omitempty" json:"source,omitempty"`
			Type    string         `yaml:"type" json:"type"`
			Subject string         `yaml:"subject,omitempty" json:"subject,omitempty"`
			Data    map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
		} `yaml:"with" json:"with"`
	} `yaml:"event" json:"event"`
}

// ListenSpec models a `listen` task: suspend until a matching event arrives
// on the broker, per spec §4.3.12. Only the "one" read policy is supported,
// and the listen has no timeout of its own.
type ListenSpec struct {
	To struct {
		One struct {
			With struct {
				Type    string `yaml:"type,omitempty" json:"type,omitempty"`
				Source  string `yaml:"source,omitempty" json:"source,omitempty"`
				Subject string `yaml:"subject,omitempty" json:"subject,omitempty"`
			} `yaml:"with,omitempty" json:"with,omitempty"`
		} `yaml:"one,omitempty" json:"one,omitempty"`
	} `yaml:"to" json:"to"`
}
