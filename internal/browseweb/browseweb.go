// Package browseweb serves a small read-only dependency-graph browser
// over HTTP for "kiln -t browse", grounded in the teacher's
// ninja-rbe/rbe_rest_service.go request-dispatch shape (switch on
// ctx.Path(), JSON responses via ctx.Success), using
// github.com/valyala/fasthttp.
package browseweb

import (
	"encoding/json"
	"log"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/kiln-build/kiln/internal/graph"
)

// Server answers graph-browsing requests against a fixed *graph.Graph.
// It never mutates the graph.
type Server struct {
	graph *graph.Graph
	http  *fasthttp.Server
}

func New(g *graph.Graph) *Server {
	s := &Server{graph: g}
	s.http = &fasthttp.Server{
		Handler:      s.route,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving addr until the process is killed or
// the server errors.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("kiln: browse server on %s", addr)
	return s.http.ListenAndServe(addr)
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/":
		s.handleTargets(ctx)
	case "/node":
		s.handleNode(ctx)
	case "/edge":
		s.handleEdge(ctx)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

type targetView struct {
	Path  string `json:"path"`
	Dirty bool   `json:"dirty"`
}

func (s *Server) handleTargets(ctx *fasthttp.RequestCtx) {
	var targets []targetView
	for _, n := range s.graph.RootNodes() {
		targets = append(targets, targetView{Path: n.Path(), Dirty: n.Dirty()})
	}
	writeJSON(ctx, targets)
}

type nodeView struct {
	Path    string   `json:"path"`
	Dirty   bool     `json:"dirty"`
	Exists  bool     `json:"exists"`
	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
}

func (s *Server) handleNode(ctx *fasthttp.RequestCtx) {
	path := string(ctx.QueryArgs().Peek("path"))
	node := s.graph.LookupNode(path)
	if node == nil {
		ctx.Error("unknown node", fasthttp.StatusNotFound)
		return
	}
	view := nodeView{Path: node.Path(), Dirty: node.Dirty(), Exists: node.Exists()}
	if e := node.InEdge(); e != nil {
		for _, in := range e.Inputs() {
			view.Inputs = append(view.Inputs, in.Path())
		}
	}
	for _, e := range node.OutEdges() {
		for _, out := range e.Outputs() {
			view.Outputs = append(view.Outputs, out.Path())
		}
	}
	writeJSON(ctx, view)
}

type edgeView struct {
	Rule    string   `json:"rule"`
	Pool    string   `json:"pool,omitempty"`
	Command string   `json:"command"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

func (s *Server) handleEdge(ctx *fasthttp.RequestCtx) {
	path := string(ctx.QueryArgs().Peek("output"))
	node := s.graph.LookupNode(path)
	if node == nil || node.InEdge() == nil {
		ctx.Error("unknown edge", fasthttp.StatusNotFound)
		return
	}
	e := node.InEdge()
	view := edgeView{Rule: e.Rule().Name(), Command: e.EvaluateCommand()}
	if e.Pool() != nil {
		view.Pool = e.Pool().Name()
	}
	for _, in := range e.Inputs() {
		view.Inputs = append(view.Inputs, in.Path())
	}
	for _, out := range e.Outputs() {
		view.Outputs = append(view.Outputs, out.Path())
	}
	writeJSON(ctx, view)
}

func writeJSON(ctx *fasthttp.RequestCtx, v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(buf)
}
