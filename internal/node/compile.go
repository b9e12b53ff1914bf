package node

import "workflowcore/internal/position"

// Node is one compiled task: the original Task plus its canonical Position
// and resolved `then` target, built once per (name, version) and shared
// read-only across every WorkflowInstance of that definition. This mirrors
// the teacher's ExecutionStep/ExecutionPlan in
// internal/workflows/translator.go, generalized from a flat map keyed by
// state name to a position-addressed tree that can express arbitrarily
// nested do/switch/for/try/fork structure.
type Node struct {
	Position position.Position
	Task     Task

	// Then resolves the task's `then` directive into one of:
	//   ThenContinue, ThenEnd, ThenExit, or a Position of a named sibling.
	Then ThenDirective

	// Children holds the compiled sub-nodes of a `do`/`try`/`for`/`fork`
	// task, in declaration order; index i's position is this node's own
	// Position plus the kind's structural tokens ("do", "for/do", "try/do"
	// or "fork") and then AppendIndex(i).
	Children []*Node

	// Catch is the compiled catch block of a `try` task, or nil.
	Catch *Node
}

// ThenDirective is the resolved form of a task's `then` clause.
type ThenDirective struct {
	Kind ThenKind
	// Target is populated only when Kind == ThenGoto.
	Target position.Position
}

type ThenKind int

const (
	// ThenContinue proceeds to the next sibling in declaration order, or
	// behaves like ThenEnd if there is none.
	ThenContinue ThenKind = iota
	// ThenEnd completes the enclosing do block successfully.
	ThenEnd
	// ThenExit terminates the entire workflow successfully from any depth.
	ThenExit
	// ThenGoto jumps to a named task, resolved at compile time via
	// nameIndex so a task's own `then` needs no name lookup at runtime.
	ThenGoto
)

// Graph is the fully compiled form of a Definition: a root node sequence
// plus a flat index from Position to Node for O(1) resumption, per spec
// §4.1 ("flat positionIndex map for O(1) resumption").
type Graph struct {
	Name    string
	Version string
	Input   *TransformSpec
	Root    []*Node

	positionIndex map[position.Position]*Node
	// nameIndex maps a task's declared name to the position.Position of
	// every node with that name reachable from Root, used to resolve
	// named `then` jumps at compile time. The index keeps every candidate,
	// in depth-first declaration order; compileThen and ResolveNamed both
	// take the first one, without regard to the scope of the jumping task.
	nameIndex map[string][]position.Position
}

// Lookup resolves a Position to its compiled Node, the hot path used by
// WorkflowInstance on every resumption.
func (g *Graph) Lookup(p position.Position) (*Node, bool) {
	n, ok := g.positionIndex[p]
	return n, ok
}

// ResolveNamed resolves a task name to its compiled Position via
// nameIndex, the same lookup compileThen uses for a node's own `then`
// directive. Exported so the interpreter can resolve a switch case's
// named `then` (spec §4.3.3) without reimplementing name resolution.
func (g *Graph) ResolveNamed(name string) (position.Position, bool) {
	positions, ok := g.nameIndex[name]
	if !ok || len(positions) == 0 {
		return position.Root, false
	}
	return positions[0], true
}

// Compile builds a Graph from a parsed Definition. Compilation is pure and
// has no side effects beyond building the indices; it is safe to cache the
// result per (name, version) for the lifetime of the process, which is
// exactly what the Definition Store's plan cache (internal/definitions)
// does, generalizing the teacher's WorkflowServiceAdapter.planCache in
// internal/workflows/runtime/adapter.go from a map[string]ExecutionPlan to
// a map[string]*Graph.
func Compile(name, version string, def *Definition) *Graph {
	g := &Graph{
		Name:          name,
		Version:       version,
		Input:         def.Input,
		positionIndex: make(map[position.Position]*Node),
		nameIndex:     make(map[string][]position.Position),
	}
	g.Root = g.compileList(position.Root, def.Do)
	g.resolveThens(g.Root)
	return g
}

func (g *Graph) compileList(base position.Position, tasks []Task) []*Node {
	nodes := make([]*Node, 0, len(tasks))
	for i, t := range tasks {
		pos := base.AppendIndex(i)
		n := g.compileTask(pos, t)
		nodes = append(nodes, n)
	}
	return nodes
}

func (g *Graph) compileTask(pos position.Position, t Task) *Node {
	n := &Node{Position: pos, Task: t}
	g.positionIndex[pos] = n
	g.nameIndex[t.Name] = append(g.nameIndex[t.Name], pos)

	switch t.Kind {
	case KindDo:
		n.Children = g.compileList(pos.AppendToken("do"), t.Do)
	case KindFor:
		if t.For != nil {
			n.Children = g.compileList(pos.AppendToken("for").AppendToken("do"), t.For.Do)
		}
	case KindTry:
		n.Children = g.compileList(pos.AppendToken("try").AppendToken("do"), t.Try)
		if t.Catch != nil {
			catchPos := pos.AppendToken("try").AppendToken("catch")
			catchNode := &Node{Position: catchPos}
			catchNode.Children = g.compileList(catchPos.AppendToken("do"), t.Catch.Do)
			g.positionIndex[catchPos] = catchNode
			n.Catch = catchNode
		}
	case KindFork:
		if t.Fork != nil {
			n.Children = g.compileList(pos.AppendToken("fork"), t.Fork.Branches)
		}
	}
	return n
}

// resolveThens walks every node recursively and resolves its `then`
// directive into a ThenDirective, using nameIndex for named jumps. It must
// run after the full tree (and therefore nameIndex) has been built.
func (g *Graph) resolveThens(nodes []*Node) {
	for _, n := range nodes {
		n.Then = g.compileThen(n.Task.Then)
		if len(n.Children) > 0 {
			g.resolveThens(n.Children)
		}
		if n.Catch != nil && len(n.Catch.Children) > 0 {
			g.resolveThens(n.Catch.Children)
		}
	}
}

func (g *Graph) compileThen(then string) ThenDirective {
	switch then {
	case "", "continue":
		return ThenDirective{Kind: ThenContinue}
	case "end":
		return ThenDirective{Kind: ThenEnd}
	case "exit":
		return ThenDirective{Kind: ThenExit}
	default:
		if positions, ok := g.nameIndex[then]; ok && len(positions) > 0 {
			return ThenDirective{Kind: ThenGoto, Target: positions[0]}
		}
		// Unknown name: not rejected here; a Target of Root marks it, and
		// the interpreter raises a CONFIGURATION error when the jump is taken.
		return ThenDirective{Kind: ThenGoto, Target: position.Root}
	}
}
