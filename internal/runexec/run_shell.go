package runexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"workflowcore/internal/expr"
	"workflowcore/internal/interp"
	"workflowcore/internal/node"
	"workflowcore/internal/wferrors"
)

// RunShellExecutor implements `run.shell` tasks: a subprocess launch via
// os/exec with argument substitution through the Expression Engine
// (environment values are passed literally), `await: false` detached
// execution, and `return` shape control
// (stdout/stderr/code/all), per spec §4.3.9. No teacher analogue exists
// (Station never shells out from a workflow); grounded instead on the
// general subprocess-launch idiom used by go.starlark.net's own test
// harness pattern and os/exec's standard usage.
type RunShellExecutor struct {
	Eval *expr.Evaluator
}

func (e *RunShellExecutor) SupportedKinds() []node.Kind { return []node.Kind{node.KindRunShell} }

func (e *RunShellExecutor) Execute(ctx context.Context, rc *interp.RunContext, n *node.Node) (any, error) {
	spec := n.Task.Run.Shell
	if spec == nil {
		return nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "run.shell requires a shell block")
	}

	st := rc.Instance.StateAt(n.Position)
	scope := expr.Scope{
		Input: decodeInput(st), Context: st.Context, Workflow: rc.Workflow, Runtime: rc.Runtime, Secrets: rc.Secrets,
		Loop: interp.LoopBindings(rc, n.Position),
	}
	args := make([]string, 0, len(spec.Arguments))
	for _, v := range spec.Arguments {
		resolved, err := resolveArg(e.Eval, scope, v)
		if err != nil {
			return nil, err
		}
		args = append(args, resolved)
	}

	cmd := exec.CommandContext(ctx, spec.Command, args...)
	for k, v := range spec.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if n.Task.Run.Await != nil && !*n.Task.Run.Await {
		if err := cmd.Start(); err != nil {
			return nil, wferrors.New(wferrors.KindRuntime, n.Position, err, "")
		}
		go cmd.Wait()
		return map[string]any{"started": true}, nil
	}

	runErr := cmd.Run()
	code := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if runErr != nil {
		return nil, wferrors.New(wferrors.KindRuntime, n.Position, runErr, "")
	}

	return shapeReturn(n.Task.Run.Return, stdout.String(), stderr.String(), code), nil
}

func resolveArg(ev *expr.Evaluator, scope expr.Scope, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v), nil
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		val, err := ev.Evaluate(strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")), scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%v", val), nil
	}
	return s, nil
}

func shapeReturn(mode, stdout, stderr string, code int) any {
	switch mode {
	case "stdout":
		return stdout
	case "stderr":
		return stderr
	case "code":
		return code
	default:
		return map[string]any{"stdout": stdout, "stderr": stderr, "code": code}
	}
}
