package graph

import (
	"strconv"
	"strings"
)

// Edge is a build step: a rule invocation binding an ordered list of
// inputs (partitioned into explicit/implicit/order-only regions) to an
// ordered list of outputs, run in a pool, evaluated against a bindings
// environment.
type Edge struct {
	id int

	rule *Rule
	pool *Pool

	inputs           []*Node
	implicitDeps     int // count of the implicit region within inputs, just before the order-only region
	orderOnlyDeps    int // count of the trailing order-only region within inputs

	outputs      []*Node
	implicitOuts int // count of the trailing implicit region within outputs

	validations []*Node

	env *BindingEnv // parent = the scope that declared this edge

	outputsReady bool
	depsMissing  bool
	depsLoaded   bool

	generatedByDepLoader bool

	criticalPathWeight int64

	// prevElapsedMillis is historical info from the command log: how long
	// this edge took last time, or -1 if unknown.
	prevElapsedMillis int64
}

// NewEdge creates an edge bound to rule, pool and env. Inputs/outputs are
// populated by the manifest parser via AddInput/AddOutput so the
// region-count invariants stay consistent.
func NewEdge(id int, rule *Rule, pool *Pool, env *BindingEnv) *Edge {
	return &Edge{id: id, rule: rule, pool: pool, env: env, prevElapsedMillis: -1, criticalPathWeight: -1}
}

func (e *Edge) ID() int       { return e.id }
func (e *Edge) Rule() *Rule   { return e.rule }
func (e *Edge) Pool() *Pool   { return e.pool }
func (e *Edge) Env() *BindingEnv    { return e.env }
func (e *Edge) SetEnv(env *BindingEnv) { e.env = env }
func (e *Edge) SetPool(p *Pool)      { e.pool = p }

func (e *Edge) IsPhony() bool     { return e.rule == PhonyRule }
func (e *Edge) UseConsole() bool  { return e.pool == ConsolePool }

func (e *Edge) OutputsReady() bool          { return e.outputsReady }
func (e *Edge) SetOutputsReady(ready bool)  { e.outputsReady = ready }

func (e *Edge) DepsMissing() bool         { return e.depsMissing }
func (e *Edge) SetDepsMissing(v bool)     { e.depsMissing = v }
func (e *Edge) DepsLoaded() bool          { return e.depsLoaded }
func (e *Edge) SetDepsLoaded(v bool)      { e.depsLoaded = v }

func (e *Edge) CriticalPathWeight() int64         { return e.criticalPathWeight }
func (e *Edge) SetCriticalPathWeight(w int64)     { e.criticalPathWeight = w }

func (e *Edge) PrevElapsedMillis() int64      { return e.prevElapsedMillis }
func (e *Edge) SetPrevElapsedMillis(ms int64) { e.prevElapsedMillis = ms }

// Inputs returns all inputs (explicit, implicit, order-only, in that
// order).
func (e *Edge) Inputs() []*Node { return e.inputs }

// ExplicitInputs returns only the inputs that make up "$in".
func (e *Edge) ExplicitInputs() []*Node {
	return e.inputs[:len(e.inputs)-e.implicitDeps-e.orderOnlyDeps]
}

// ImplicitInputs returns the implicit (non-order-only) inputs.
func (e *Edge) ImplicitInputs() []*Node {
	end := len(e.inputs) - e.orderOnlyDeps
	return e.inputs[end-e.implicitDeps : end]
}

// OrderOnlyInputs returns the order-only inputs.
func (e *Edge) OrderOnlyInputs() []*Node {
	return e.inputs[len(e.inputs)-e.orderOnlyDeps:]
}

func (e *Edge) ImplicitDepsCount() int  { return e.implicitDeps }
func (e *Edge) OrderOnlyDepsCount() int { return e.orderOnlyDeps }

// IsOrderOnly reports whether the input at index is order-only.
func (e *Edge) IsOrderOnly(index int) bool {
	return index >= len(e.inputs)-e.orderOnlyDeps
}

// IsImplicit reports whether the input at index is implicit (and not
// order-only).
func (e *Edge) IsImplicit(index int) bool {
	return index >= len(e.inputs)-e.orderOnlyDeps-e.implicitDeps && !e.IsOrderOnly(index)
}

// AddInput appends an explicit input. Call InsertImplicitInput /
// InsertOrderOnlyInput for the other two regions so counts stay correct.
func (e *Edge) AddInput(n *Node) {
	insertAt := len(e.inputs) - e.implicitDeps - e.orderOnlyDeps
	e.inputs = append(e.inputs, nil)
	copy(e.inputs[insertAt+1:], e.inputs[insertAt:])
	e.inputs[insertAt] = n
	n.AddOutEdge(e)
}

// InsertImplicitInput inserts n into the implicit region (before
// order-only), bumping implicitDeps. Used by both manifest parsing and
// ImplicitDepLoader, per spec.md §4.5's "insert at inputs.end() -
// order_only_count" rule.
func (e *Edge) InsertImplicitInput(n *Node) {
	insertAt := len(e.inputs) - e.orderOnlyDeps
	e.inputs = append(e.inputs, nil)
	copy(e.inputs[insertAt+1:], e.inputs[insertAt:])
	e.inputs[insertAt] = n
	e.implicitDeps++
	n.AddOutEdge(e)
}

// InsertOrderOnlyInput appends n to the order-only region.
func (e *Edge) InsertOrderOnlyInput(n *Node) {
	e.inputs = append(e.inputs, n)
	e.orderOnlyDeps++
	n.AddOutEdge(e)
}

// AddOutput appends an explicit output, wires the node's in-edge, and
// implicit output appends are handled via InsertImplicitOutput.
func (e *Edge) AddOutput(n *Node) {
	insertAt := len(e.outputs) - e.implicitOuts
	e.outputs = append(e.outputs, nil)
	copy(e.outputs[insertAt+1:], e.outputs[insertAt:])
	e.outputs[insertAt] = n
	n.SetInEdge(e)
}

// InsertImplicitOutput inserts n into the implicit-output region.
func (e *Edge) InsertImplicitOutput(n *Node) {
	e.outputs = append(e.outputs, n)
	e.implicitOuts++
	n.SetInEdge(e)
}

func (e *Edge) Outputs() []*Node { return e.outputs }

// ExplicitOutputs returns only the outputs that make up "$out".
func (e *Edge) ExplicitOutputs() []*Node {
	return e.outputs[:len(e.outputs)-e.implicitOuts]
}

func (e *Edge) AddValidation(n *Node) {
	e.validations = append(e.validations, n)
	n.AddOutEdge(e)
}
func (e *Edge) Validations() []*Node { return e.validations }

// AllInputsReady reports whether every input's producing edge (if any) has
// finished, i.e. this edge may now be considered for scheduling.
func (e *Edge) AllInputsReady() bool {
	for _, in := range e.inputs {
		if in.InEdge() != nil && !in.InEdge().OutputsReady() {
			return false
		}
	}
	return true
}

// GetBinding returns the shell-escaped value of a binding, resolved via the
// three-level lookup order documented on BindingEnv.LookupWithFallback.
func (e *Edge) GetBinding(key string) string {
	env := newEdgeEnv(e, shellEscape)
	return env.LookupVariable(key)
}

func (e *Edge) GetBindingBool(key string) bool { return e.GetBinding(key) != "" }

// GetUnescapedDepfile, GetUnescapedRspfile, GetUnescapedDyndep mirror
// GetBinding but skip shell escaping, since these values are file paths
// used directly by Go code rather than passed to a shell.
func (e *Edge) GetUnescapedDepfile() string { return newEdgeEnv(e, doNotEscape).LookupVariable("depfile") }
func (e *Edge) GetUnescapedRspfile() string  { return newEdgeEnv(e, doNotEscape).LookupVariable("rspfile") }
func (e *Edge) GetUnescapedDyndep() string   { return newEdgeEnv(e, doNotEscape).LookupVariable("dyndep") }

// EvaluateCommand expands the command binding's variables. rspfile
// payloads are never folded into this string: hashutil.CommandHashWithRspfile
// combines the two separately for the command log and history store,
// per spec.md §4.2, and the literal command run by a CommandRunner must
// never carry rspfile text.
func (e *Edge) EvaluateCommand() string {
	return e.GetBinding("command")
}

func (e *Edge) maybePhonycycleDiagnostic() bool {
	return e.IsPhony() && len(e.outputs) == 1 && e.implicitOuts == 0 && e.implicitDeps == 0
}

// escapeMode controls whether GetBinding shell-escapes $in/$out-derived
// values.
type escapeMode int

const (
	shellEscape escapeMode = iota
	doNotEscape
)

// edgeEnv is the Env implementation used to expand an edge's bindings: it
// resolves $in/$out specially, otherwise defers to the edge's own
// BindingEnv/rule/parent-scope lookup order.
type edgeEnv struct {
	edge   *Edge
	escape escapeMode
	// recursion guards against a binding referencing itself through the
	// rule, matching the teacher's env_ wiring.
	lookingUp map[string]bool
}

func newEdgeEnv(e *Edge, escape escapeMode) *edgeEnv {
	return &edgeEnv{edge: e, escape: escape, lookingUp: map[string]bool{}}
}

func (ee *edgeEnv) LookupVariable(name string) string {
	switch name {
	case "in":
		return ee.pathList(ee.edge.ExplicitInputs(), ' ')
	case "in_newline":
		return ee.pathList(ee.edge.ExplicitInputs(), '\n')
	case "out":
		return ee.pathList(ee.edge.ExplicitOutputs(), ' ')
	case "out_newline":
		return ee.pathList(ee.edge.ExplicitOutputs(), '\n')
	}

	if ee.lookingUp[name] {
		return "" // guard against pathological self-reference
	}

	if rule := ee.edge.rule; rule != nil {
		if binding := rule.Binding(name); binding != nil {
			ee.lookingUp[name] = true
			defer delete(ee.lookingUp, name)
			return ee.edge.env.LookupWithFallback(name, binding, ee)
		}
	}

	return ee.edge.env.LookupVariable(name)
}

func (ee *edgeEnv) pathList(nodes []*Node, sep byte) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		path := n.PathDecanonicalized()
		if ee.escape == shellEscape {
			path = ShellEscape(path)
		}
		parts[i] = path
	}
	return strings.Join(parts, string(sep))
}

// ShellEscape quotes path for a POSIX shell using single quotes, escaping
// any embedded single quote as '\'' (close quote, literal quote, reopen
// quote), matching spec.md §8 scenario 4 exactly.
func ShellEscape(path string) string {
	if path == "" {
		return "''"
	}
	needsQuoting := strings.ContainsAny(path, " $'\"()")
	if !needsQuoting {
		return path
	}
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(path); i++ {
		if path[i] == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteByte(path[i])
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func (e *Edge) String() string {
	var b strings.Builder
	b.WriteString("[")
	for _, i := range e.inputs {
		b.WriteString(i.Path())
		b.WriteByte(' ')
	}
	b.WriteString("--")
	b.WriteString(e.rule.Name())
	b.WriteString(". ")
	for _, o := range e.outputs {
		b.WriteString(o.Path())
		b.WriteByte(' ')
	}
	b.WriteString("] #")
	b.WriteString(strconv.Itoa(e.id))
	return b.String()
}
