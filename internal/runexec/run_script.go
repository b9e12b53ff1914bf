package runexec

import (
	"context"
	"encoding/json"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkjson"

	"workflowcore/internal/interp"
	"workflowcore/internal/node"
	"workflowcore/internal/wferrors"
)

// RunScriptExecutor implements `run.script` tasks whose `language` is
// "starlark": the embedded scripting option spec §4.3.9 calls for,
// grounded directly on the teacher's
// internal/workflows/runtime/starlark_eval.go and transform_executor.go
// conversion helpers (predeclared json module, starlarkToGo/Go-to-starlark
// marshaling via JSON round-trip). Starlark is the teacher's own
// go.starlark.net dependency, repurposed here from being the core
// Expression Engine (now github.com/itchyny/gojq, see internal/expr) to
// being one RunScript language backend among others.
type RunScriptExecutor struct{}

func (e *RunScriptExecutor) SupportedKinds() []node.Kind { return []node.Kind{node.KindRunScript} }

func (e *RunScriptExecutor) Execute(ctx context.Context, rc *interp.RunContext, n *node.Node) (any, error) {
	spec := n.Task.Run.Script
	if spec == nil {
		return nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "run.script requires a script block")
	}
	switch spec.Language {
	case "starlark", "":
		return e.runStarlark(spec, n)
	default:
		return nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "unsupported run.script language %q", spec.Language)
	}
}

func (e *RunScriptExecutor) runStarlark(spec *node.RunScriptSpec, n *node.Node) (any, error) {
	argsJSON, err := json.Marshal(spec.Arguments)
	if err != nil {
		return nil, wferrors.New(wferrors.KindRuntime, n.Position, err, "")
	}

	predeclared := starlark.StringDict{"json": starlarkjson.Module}
	argsVal, err := starlarkjson.Module.Members["decode"].(*starlark.Builtin).CallInternal(
		nil, starlark.Tuple{starlark.String(argsJSON)}, nil)
	if err != nil {
		return nil, wferrors.New(wferrors.KindRuntime, n.Position, err, "decode run.script arguments")
	}
	predeclared["args"] = argsVal

	thread := &starlark.Thread{Name: "run.script"}
	globals, err := starlark.ExecFile(thread, "run_script.star", spec.Code, predeclared)
	if err != nil {
		return nil, wferrors.New(wferrors.KindRuntime, n.Position, err, "starlark execution failed")
	}

	result, ok := globals["result"]
	if !ok {
		return map[string]any{}, nil
	}
	return starlarkValueToGo(result)
}

func starlarkValueToGo(v starlark.Value) (any, error) {
	encoded, err := starlarkjson.Module.Members["encode"].(*starlark.Builtin).CallInternal(nil, starlark.Tuple{v}, nil)
	if err != nil {
		return nil, fmt.Errorf("encode starlark result: %w", err)
	}
	var out any
	if err := json.Unmarshal([]byte(string(encoded.(starlark.String))), &out); err != nil {
		return nil, fmt.Errorf("unmarshal starlark result: %w", err)
	}
	return out, nil
}
