package node

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Definition is the parsed, uncompiled form of a workflow document.
type Definition struct {
	Document struct {
		DSL     string `yaml:"dsl"`
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"document"`
	Input *TransformSpec `yaml:"input,omitempty"`
	Do    []Task         `yaml:"do"`
}

// ParseDefinition decodes YAML (or JSON, which is a YAML subset) workflow
// text into a Definition, the way the teacher's internal/workflows/loader.go
// Loader decodes a WorkflowFile — generalized from file-discovery to
// decoding arbitrary definition text pulled from the Definition Store.
func ParseDefinition(text []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(text, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	if def.Document.Name == "" {
		return nil, fmt.Errorf("parse workflow definition: document.name is required")
	}
	return &def, nil
}

// UnmarshalYAML implements the DSL's "list of single-key maps" encoding for
// a `do`/`try`/`for.do`/`catch.do`/`fork.branches` task sequence:
//
//	do:
//	  - greet:
//	      set: { message: "hi" }
//	  - check:
//	      switch: [...]
//
// Each list element becomes one Task named by its sole key.
func (t *Task) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("task entry must be a single-key mapping, got %d pairs", len(value.Content)/2)
	}
	name := value.Content[0].Value
	body := value.Content[1]

	var raw rawTaskBody
	if err := body.Decode(&raw); err != nil {
		return fmt.Errorf("task %q: %w", name, err)
	}

	t.Name = name
	t.Then = raw.Then
	t.If = raw.If
	t.Input = raw.Input
	t.Output = raw.Output
	t.Export = raw.Export
	t.Timeout = raw.Timeout

	switch {
	case raw.Do != nil:
		t.Kind = KindDo
		t.Do = raw.Do
	case raw.Switch != nil:
		t.Kind = KindSwitch
		t.Switch = raw.Switch
	case raw.For != nil:
		t.Kind = KindFor
		t.For = raw.For
	case raw.Try != nil:
		t.Kind = KindTry
		t.Try = raw.Try
		t.Catch = raw.Catch
	case raw.Set != nil:
		t.Kind = KindSet
		t.Set = raw.Set
	case raw.Raise != nil:
		t.Kind = KindRaise
		t.Raise = raw.Raise
	case raw.Wait != nil:
		t.Kind = KindWait
		t.Wait = &WaitSpec{Duration: raw.Wait}
	case raw.Call != "":
		t.Call = &CallSpec{Function: raw.Call, With: raw.With}
		switch raw.Call {
		case "grpc":
			t.Kind = KindCallGRPC
		default:
			t.Kind = KindCallHTTP
		}
	case raw.Run != nil:
		t.Run = raw.Run
		switch {
		case raw.Run.Shell != nil:
			t.Kind = KindRunShell
		case raw.Run.Script != nil:
			t.Kind = KindRunScript
		case raw.Run.Workflow != nil:
			t.Kind = KindRunWorkflow
		default:
			return fmt.Errorf("task %q: run requires one of shell/script/workflow", name)
		}
	case raw.Fork != nil:
		t.Kind = KindFork
		t.Fork = raw.Fork
	case raw.Emit != nil:
		t.Kind = KindEmit
		t.Emit = raw.Emit
	case raw.Listen != nil:
		t.Kind = KindListen
		t.Listen = raw.Listen
	default:
		return fmt.Errorf("task %q: no recognized task body (do/switch/for/try/set/raise/wait/call/run/fork)", name)
	}
	return nil
}

// UnmarshalYAML decodes a switch case written in the DSL's single-key form
// (`- caseName: {when: ..., then: ...}`), recording the key as Name; any
// other shape is decoded field by field.
func (c *SwitchCase) UnmarshalYAML(value *yaml.Node) error {
	type plain SwitchCase
	body := value
	if value.Kind == yaml.MappingNode && len(value.Content) == 2 && value.Content[1].Kind == yaml.MappingNode {
		body = value.Content[1]
	}
	var p plain
	if err := body.Decode(&p); err != nil {
		return fmt.Errorf("switch case: %w", err)
	}
	*c = SwitchCase(p)
	if body != value {
		c.Name = value.Content[0].Value
	}
	return nil
}

// rawTaskBody is the union of every possible task-body field, decoded once
// per task and then dispatched in UnmarshalYAML by whichever field is
// non-nil. This mirrors the teacher's StateSpec "superset struct" approach
// in internal/workflows/types.go, generalized to the DSL's full task set.
type rawTaskBody struct {
	Then    string         `yaml:"then,omitempty"`
	If      string         `yaml:"if,omitempty"`
	Input   *TransformSpec `yaml:"input,omitempty"`
	Output  *TransformSpec `yaml:"output,omitempty"`
	Export  *Export        `yaml:"export,omitempty"`
	Timeout string         `yaml:"timeout,omitempty"`

	Do     []Task       `yaml:"do,omitempty"`
	Switch []SwitchCase `yaml:"switch,omitempty"`
	For    *ForSpec     `yaml:"for,omitempty"`
	Try    []Task       `yaml:"try,omitempty"`
	Catch  *CatchSpec   `yaml:"catch,omitempty"`
	Set    map[string]any `yaml:"set,omitempty"`
	Raise  *RaiseSpec   `yaml:"raise,omitempty"`
	Wait   any          `yaml:"wait,omitempty"`
	Call   string       `yaml:"call,omitempty"`
	With   map[string]any `yaml:"with,omitempty"`
	Run    *RunSpec     `yaml:"run,omitempty"`
	Fork   *ForkSpec    `yaml:"fork,omitempty"`
	Emit   *EmitSpec   `yaml:"emit,omitempty"`
	Listen *ListenSpec `yaml:"listen,omitempty"`
}
