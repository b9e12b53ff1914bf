package runexec

import (
	"context"
	"fmt"
	"time"

	"github.com/sosodev/duration"

	"workflowcore/internal/interp"
	"workflowcore/internal/node"
)

// WaitExecutor implements `wait` tasks: either a Go duration string or an
// ISO-8601 duration string (parsed with github.com/sosodev/duration, the
// ISO-8601 parser available in the retrieved example pack via
// serverlessworkflow-sdk-go's go.mod — the DSL's own distilled SDK).
// Grounded on the teacher's internal/workflows/runtime/timer_executor.go
// ParseDuration/_timerResumeAt pattern, generalized to ISO-8601 text and to
// suspending via interp.Suspend instead of a StepStatusWaitingTimer sentinel.
type WaitExecutor struct{}

func (e *WaitExecutor) SupportedKinds() []node.Kind { return []node.Kind{node.KindWait} }

func (e *WaitExecutor) Execute(ctx context.Context, rc *interp.RunContext, n *node.Node) (any, error) {
	st := rc.Instance.StateAt(n.Position)

	// Already suspended once for this position: resumption means the
	// delay has elapsed. wait is a pass-through task, so rawOutput is set
	// to transformedInput per spec §4.3.7 — the data flowing through it
	// is unchanged, not replaced with a sentinel value.
	if resumed, ok := st.Variables["__waited"].(bool); ok && resumed {
		return decodeInput(st), nil
	}

	d, err := parseWaitDuration(n.Task.Wait.Duration)
	if err != nil {
		return nil, err
	}
	if st.Variables == nil {
		st.Variables = map[string]any{}
	}
	st.Variables["__waited"] = true
	return nil, interp.Suspend("WAIT", d)
}

func parseWaitDuration(spec any) (time.Duration, error) {
	switch v := spec.(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, nil
		}
		iso, err := duration.Parse(v)
		if err != nil {
			return 0, fmt.Errorf("invalid wait duration %q: %w", v, err)
		}
		return iso.ToTimeDuration(), nil
	case map[string]any:
		return structuredDuration(v), nil
	default:
		return 0, fmt.Errorf("unsupported wait duration type %T", spec)
	}
}

func structuredDuration(m map[string]any) time.Duration {
	get := func(k string) int {
		switch v := m[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
		return 0
	}
	total := time.Duration(get("days"))*24*time.Hour +
		time.Duration(get("hours"))*time.Hour +
		time.Duration(get("minutes"))*time.Minute +
		time.Duration(get("seconds"))*time.Second +
		time.Duration(get("milliseconds"))*time.Millisecond
	return total
}
