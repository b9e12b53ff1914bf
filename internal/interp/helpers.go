package interp

import (
	"encoding/json"
	"time"

	"workflowcore/internal/expr"
	"workflowcore/internal/node"
	"workflowcore/internal/wferrors"
)

func timeNow() time.Time { return time.Now().UTC() }

func jsonDecode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func jsonEncode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// applyOutput runs a leaf task's output.from transform (if any) and its
// export.as evaluation (if any, stored as the node's own Context), then stores rawOutput/transformedOutput
// on the NodeState, preserving the invariant that TransformedOutput implies
// RawOutput is set (spec §3).
func applyOutput(ev *expr.Evaluator, scope expr.Scope, n *node.Node, st *node.State, raw any) error {
	rawEnc, err := jsonEncode(raw)
	if err != nil {
		return err
	}
	st.RawOutput = rawEnc

	transformed := raw
	if n.Task.Output != nil && n.Task.Output.From != "" {
		scope.Output = raw
		transformed, err = ev.Evaluate(n.Task.Output.From, scope)
		if err != nil {
			return err
		}
	}
	if n.Task.Output != nil && len(n.Task.Output.Schema) > 0 {
		if verr := node.ValidateAgainstSchema(n.Task.Output.Schema, transformed); verr != nil {
			return wferrors.New(wferrors.KindValidation, n.Position, verr, "output of %s failed schema validation", n.Position)
		}
	}

	transEnc, err := jsonEncode(transformed)
	if err != nil {
		return err
	}
	st.TransformedOutput = transEnc

	if n.Task.Export != nil && n.Task.Export.As != "" {
		scope.Output = transformed
		ctxVal, err := ev.Evaluate(n.Task.Export.As, scope)
		if err != nil {
			return err
		}
		if m, ok := ctxVal.(map[string]any); ok {
			st.Context = m
		}
	}
	return nil
}

// applyInput resolves a leaf task's input.from transform against its
// predecessor's output, storing rawInput/transformedInput before Execute
// runs, per spec §4.3's per-node input resolution.
func applyInput(ev *expr.Evaluator, scope expr.Scope, n *node.Node, st *node.State, predecessorOutput any) error {
	rawEnc, err := jsonEncode(predecessorOutput)
	if err != nil {
		return err
	}
	st.RawInput = rawEnc

	transformed := predecessorOutput
	if n.Task.Input != nil && n.Task.Input.From != "" {
		scope.Input = predecessorOutput
		transformed, err = ev.Evaluate(n.Task.Input.From, scope)
		if err != nil {
			return err
		}
	}
	if n.Task.Input != nil && len(n.Task.Input.Schema) > 0 {
		if verr := node.ValidateAgainstSchema(n.Task.Input.Schema, transformed); verr != nil {
			return wferrors.New(wferrors.KindValidation, n.Position, verr, "input of %s failed schema validation", n.Position)
		}
	}

	transEnc, err := jsonEncode(transformed)
	if err != nil {
		return err
	}
	st.TransformedInput = transEnc
	return nil
}
