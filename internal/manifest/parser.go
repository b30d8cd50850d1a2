package manifest

import (
	"fmt"
	"os"
	"strconv"

	"github.com/kiln-build/kiln/internal/graph"
)

// Parser builds a *graph.Graph from one or more manifest files.
// Grounded in original_source/src/manifest_parser.cc's grammar.
type Parser struct {
	graph *graph.Graph
	env   *graph.BindingEnv
	lexer *Lexer
}

// Parse loads filename and every file it includes into a freshly
// created graph.
func Parse(filename string) (*graph.Graph, error) {
	g := graph.NewGraph()
	p := &Parser{graph: g, env: g.Bindings}
	if err := p.load(filename); err != nil {
		return nil, err
	}
	return g, nil
}

func (p *Parser) load(filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("loading '%s': %w", filename, err)
	}
	return p.parse(filename, string(content))
}

func (p *Parser) parse(filename, input string) error {
	saved := p.lexer
	p.lexer = NewLexer(filename, input)
	defer func() { p.lexer = saved }()

	for {
		tok, err := p.lexer.ReadToken()
		if err != nil {
			return err
		}
		switch tok {
		case Pool:
			if err := p.parsePool(); err != nil {
				return err
			}
		case Build:
			if err := p.parseEdge(); err != nil {
				return err
			}
		case Rule:
			if err := p.parseRule(); err != nil {
				return err
			}
		case Default:
			if err := p.parseDefault(); err != nil {
				return err
			}
		case Ident:
			p.lexer.UnreadToken()
			name, value, err := p.parseLet()
			if err != nil {
				return err
			}
			p.env.AddBinding(name, value.Evaluate(p.env))
		case Include:
			if err := p.parseFileInclude(); err != nil {
				return err
			}
		case Subninja:
			return p.lexer.errorf("subninja not supported")
		case TEOF:
			return nil
		case Newline:
			continue
		default:
			return p.lexer.errorf("unexpected %s", tok)
		}
	}
}

func (p *Parser) expect(tok Token) error {
	got, err := p.lexer.ReadToken()
	if err != nil {
		return err
	}
	if got != tok {
		return p.lexer.errorf("expected %s, got %s", tok, got)
	}
	return nil
}

func (p *Parser) parsePool() error {
	name, err := p.lexer.ReadIdent()
	if err != nil {
		return p.lexer.errorf("expected pool name")
	}
	if err := p.expect(Newline); err != nil {
		return err
	}
	if p.graph.LookupPool(name) != nil {
		return p.lexer.errorf("duplicate pool '%s'", name)
	}

	depth := -1
	for {
		indented, err := p.lexer.PeekToken(Indent)
		if err != nil {
			return err
		}
		if !indented {
			break
		}
		key, value, err := p.parseLet()
		if err != nil {
			return err
		}
		if key != "depth" {
			return p.lexer.errorf("unexpected variable '%s'", key)
		}
		depthStr := value.Evaluate(p.env)
		d, err := strconv.Atoi(depthStr)
		if err != nil || d < 0 {
			return p.lexer.errorf("invalid pool depth")
		}
		depth = d
	}
	if depth < 0 {
		return p.lexer.errorf("expected 'depth =' line")
	}

	p.graph.AddPool(graph.NewPool(name, depth))
	return nil
}

func (p *Parser) parseRule() error {
	name, err := p.lexer.ReadIdent()
	if err != nil {
		return p.lexer.errorf("expected rule name")
	}
	if err := p.expect(Newline); err != nil {
		return err
	}
	if p.env.LookupRuleCurrentScope(name) != nil {
		return p.lexer.errorf("duplicate rule '%s'", name)
	}

	rule := graph.NewRule(name)
	for {
		indented, err := p.lexer.PeekToken(Indent)
		if err != nil {
			return err
		}
		if !indented {
			break
		}
		key, value, err := p.parseLet()
		if err != nil {
			return err
		}
		if !graph.IsReservedBinding(key) {
			return p.lexer.errorf("unexpected variable '%s'", key)
		}
		rule.AddBinding(key, value)
	}

	hasRspfile := rule.Binding("rspfile") != nil && !rule.Binding("rspfile").Empty()
	hasRspfileContent := rule.Binding("rspfile_content") != nil && !rule.Binding("rspfile_content").Empty()
	if hasRspfile != hasRspfileContent {
		return p.lexer.errorf("rspfile and rspfile_content need to be both specified")
	}
	if rule.Binding("command") == nil || rule.Binding("command").Empty() {
		return p.lexer.errorf("expected 'command =' line")
	}

	p.env.AddRule(rule)
	return nil
}

func (p *Parser) parseLet() (string, *graph.EvalString, error) {
	name, err := p.lexer.ReadIdent()
	if err != nil {
		return "", nil, p.lexer.errorf("expected variable name")
	}
	if err := p.expect(Equals); err != nil {
		return "", nil, err
	}
	value := &graph.EvalString{}
	if err := p.lexer.ReadVarValue(value); err != nil {
		return "", nil, err
	}
	if err := p.expect(Newline); err != nil {
		return "", nil, err
	}
	return name, value, nil
}

func (p *Parser) parseDefault() error {
	var paths []string
	for {
		eval := &graph.EvalString{}
		if err := p.lexer.ReadPath(eval); err != nil {
			return err
		}
		if eval.Empty() {
			break
		}
		canon, _, err := graph.Canonicalize(eval.Evaluate(p.env))
		if err != nil {
			return p.lexer.errorf("%v", err)
		}
		paths = append(paths, canon)
	}
	if len(paths) == 0 {
		return p.lexer.errorf("expected target name")
	}
	if err := p.expect(Newline); err != nil {
		return err
	}
	for _, path := range paths {
		if err := p.graph.AddDefault(path); err != nil {
			return p.lexer.errorf("%v", err)
		}
	}
	return nil
}

func (p *Parser) parseEdge() error {
	var outs []*graph.EvalString
	for {
		out := &graph.EvalString{}
		if err := p.lexer.ReadPath(out); err != nil {
			return err
		}
		if out.Empty() {
			break
		}
		outs = append(outs, out)
	}
	if len(outs) == 0 {
		return p.lexer.errorf("expected path")
	}

	if err := p.expect(Colon); err != nil {
		return err
	}

	ruleName, err := p.lexer.ReadIdent()
	if err != nil {
		return p.lexer.errorf("expected build command name")
	}
	rule := p.env.LookupRule(ruleName)
	if rule == nil {
		return p.lexer.errorf("unknown build rule '%s'", ruleName)
	}

	var ins []*graph.EvalString
	for {
		in := &graph.EvalString{}
		if err := p.lexer.ReadPath(in); err != nil {
			return err
		}
		if in.Empty() {
			break
		}
		ins = append(ins, in)
	}

	implicit := 0
	if hasPipe, err := p.lexer.PeekToken(Pipe); err != nil {
		return err
	} else if hasPipe {
		for {
			in := &graph.EvalString{}
			if err := p.lexer.ReadPath(in); err != nil {
				return err
			}
			if in.Empty() {
				break
			}
			ins = append(ins, in)
			implicit++
		}
	}

	orderOnly := 0
	if hasPipe2, err := p.lexer.PeekToken(Pipe2); err != nil {
		return err
	} else if hasPipe2 {
		for {
			in := &graph.EvalString{}
			if err := p.lexer.ReadPath(in); err != nil {
				return err
			}
			if in.Empty() {
				break
			}
			ins = append(ins, in)
			orderOnly++
		}
	}

	if err := p.expect(Newline); err != nil {
		return err
	}

	edgeEnv := p.env
	hasIndent, err := p.lexer.PeekToken(Indent)
	if err != nil {
		return err
	}
	if hasIndent {
		edgeEnv = graph.NewChildBindingEnv(p.env)
	}
	for hasIndent {
		key, value, err := p.parseLet()
		if err != nil {
			return err
		}
		edgeEnv.AddBinding(key, value.Evaluate(p.env))
		hasIndent, err = p.lexer.PeekToken(Indent)
		if err != nil {
			return err
		}
	}

	edge := p.graph.AddEdge(rule)
	edge.SetEnv(edgeEnv)

	if poolName := edge.GetBinding("pool"); poolName != "" {
		pool := p.graph.LookupPool(poolName)
		if pool == nil {
			return p.lexer.errorf("unknown pool name '%s'", poolName)
		}
		edge.SetPool(pool)
	}

	explicitCount := len(ins) - implicit - orderOnly
	for i, in := range ins {
		path, slashBits, err := graph.Canonicalize(in.Evaluate(edgeEnv))
		if err != nil {
			return p.lexer.errorf("%v", err)
		}
		switch {
		case i < explicitCount:
			p.graph.AddIn(edge, path, slashBits)
		case i < explicitCount+implicit:
			node := p.graph.GetNode(path, slashBits)
			edge.InsertImplicitInput(node)
			node.SetGeneratedByDepLoader(false)
		default:
			node := p.graph.GetNode(path, slashBits)
			edge.InsertOrderOnlyInput(node)
			node.SetGeneratedByDepLoader(false)
		}
	}
	for _, out := range outs {
		path, slashBits, err := graph.Canonicalize(out.Evaluate(edgeEnv))
		if err != nil {
			return p.lexer.errorf("%v", err)
		}
		if err := p.graph.AddOut(edge, path, slashBits); err != nil {
			return p.lexer.errorf("%v", err)
		}
	}

	if len(edge.Outputs()) == 0 {
		return p.lexer.errorf("build edge has no outputs")
	}

	if depsType := edge.GetBinding("deps"); depsType != "" && len(edge.Outputs()) > 1 {
		return p.lexer.errorf("multiple outputs aren't supported by depslog")
	}

	return nil
}

func (p *Parser) parseFileInclude() error {
	eval := &graph.EvalString{}
	if err := p.lexer.ReadPath(eval); err != nil {
		return err
	}
	path := eval.Evaluate(p.env)

	if err := p.load(path); err != nil {
		return err
	}
	return p.expect(Newline)
}
