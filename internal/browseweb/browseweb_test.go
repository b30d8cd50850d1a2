package browseweb

import (
	"encoding/json"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/kiln-build/kiln/internal/graph"
)

func newTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.NewGraph()
	rule := graph.NewRule("cat")
	cmd := &graph.EvalString{}
	cmd.AddText("cat ")
	cmd.AddSpecial("in")
	cmd.AddText(" > ")
	cmd.AddSpecial("out")
	rule.AddBinding("command", cmd)
	g.Bindings.AddRule(rule)

	e1 := g.AddEdge(rule)
	g.AddIn(e1, "in", 0)
	g.AddOut(e1, "mid", 0)

	e2 := g.AddEdge(rule)
	g.AddIn(e2, "mid", 0)
	g.AddOut(e2, "out", 0)
	return g
}

func requestCtx(path string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI(path)
	return ctx
}

func TestHandleTargetsListsRootNodes(t *testing.T) {
	s := New(newTestGraph(t))
	ctx := requestCtx("/")
	s.route(ctx)

	var targets []targetView
	if err := json.Unmarshal(ctx.Response.Body(), &targets); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(targets) != 1 || targets[0].Path != "out" {
		t.Fatalf("expected only the root %q, got %v", "out", targets)
	}
}

func TestHandleNodeReturnsInputsAndOutputs(t *testing.T) {
	s := New(newTestGraph(t))
	ctx := requestCtx("/node?path=mid")
	s.route(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	var view nodeView
	if err := json.Unmarshal(ctx.Response.Body(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.Path != "mid" || len(view.Inputs) != 1 || view.Inputs[0] != "in" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(view.Outputs) != 1 || view.Outputs[0] != "out" {
		t.Fatalf("expected mid to feed out.o's edge as output, got %+v", view)
	}
}

func TestHandleNodeUnknownPathIs404(t *testing.T) {
	s := New(newTestGraph(t))
	ctx := requestCtx("/node?path=nope")
	s.route(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.Response.StatusCode())
	}
}

func TestHandleEdgeReturnsCommandAndRule(t *testing.T) {
	s := New(newTestGraph(t))
	ctx := requestCtx("/edge?output=out")
	s.route(ctx)

	var view edgeView
	if err := json.Unmarshal(ctx.Response.Body(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.Rule != "cat" || view.Command != "cat mid > out" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(view.Inputs) != 1 || view.Inputs[0] != "mid" {
		t.Fatalf("unexpected inputs: %v", view.Inputs)
	}
}

func TestHandleEdgeUnknownOutputIs404(t *testing.T) {
	s := New(newTestGraph(t))
	ctx := requestCtx("/edge?output=nope")
	s.route(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.Response.StatusCode())
	}
}

func TestRouteUnknownPathIs404(t *testing.T) {
	s := New(newTestGraph(t))
	ctx := requestCtx("/nope")
	s.route(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.Response.StatusCode())
	}
}
