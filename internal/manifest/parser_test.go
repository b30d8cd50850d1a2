package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "build.ninja")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	return path
}

func TestParseBasicEdge(t *testing.T) {
	path := writeManifest(t, `
cflags = -Wall
rule cc
  command = gcc $cflags -c $in -o $out

build out.o: cc in.c
`)
	g, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	edge := g.LookupNode("out.o").InEdge()
	if edge == nil {
		t.Fatal("expected out.o to have a producing edge")
	}
	if got, want := edge.EvaluateCommand(), "gcc -Wall -c in.c -o out.o"; got != want {
		t.Fatalf("got command %q, want %q", got, want)
	}
}

func TestParseImplicitAndOrderOnlyInputs(t *testing.T) {
	path := writeManifest(t, `
rule cc
  command = cc $in -o $out

build out.o: cc in.c | header.h || dep.stamp
`)
	g, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	edge := g.LookupNode("out.o").InEdge()
	if len(edge.Inputs()) != 3 {
		t.Fatalf("expected 3 total inputs, got %d", len(edge.Inputs()))
	}
	if got := edge.Inputs()[0].Path(); got != "in.c" {
		t.Fatalf("expected the explicit input first, got %q", got)
	}
	if got := edge.Inputs()[1].Path(); got != "header.h" {
		t.Fatalf("expected the implicit input second, got %q", got)
	}
	if got := edge.Inputs()[2].Path(); got != "dep.stamp" {
		t.Fatalf("expected the order-only input last, got %q", got)
	}
}

func TestParseDuplicateRuleIsAnError(t *testing.T) {
	path := writeManifest(t, `
rule cc
  command = cc $in -o $out

rule cc
  command = cc2 $in -o $out
`)
	if _, err := Parse(path); err == nil {
		t.Fatal("expected an error for a duplicate rule name")
	} else if !strings.Contains(err.Error(), "duplicate rule 'cc'") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseUnknownRuleIsAnError(t *testing.T) {
	path := writeManifest(t, `
build out.o: cc in.c
`)
	if _, err := Parse(path); err == nil {
		t.Fatal("expected an error for an unknown build rule")
	} else if !strings.Contains(err.Error(), "unknown build rule 'cc'") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRuleWithoutCommandIsAnError(t *testing.T) {
	path := writeManifest(t, `
rule cc
  description = compiling
`)
	if _, err := Parse(path); err == nil {
		t.Fatal("expected an error for a rule missing 'command'")
	} else if !strings.Contains(err.Error(), "expected 'command =' line") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRspfileRequiresBothBindings(t *testing.T) {
	path := writeManifest(t, `
rule link
  command = link @out.rsp -o $out
  rspfile = out.rsp
`)
	if _, err := Parse(path); err == nil {
		t.Fatal("expected an error for rspfile without rspfile_content")
	} else if !strings.Contains(err.Error(), "rspfile and rspfile_content need to be both specified") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParsePoolAdmitsEdges(t *testing.T) {
	path := writeManifest(t, `
pool link_pool
  depth = 2

rule link
  command = link $in -o $out
  pool = link_pool

build out: link in.o
`)
	g, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pool := g.LookupPool("link_pool")
	if pool == nil {
		t.Fatal("expected link_pool to be registered")
	}
	edge := g.LookupNode("out").InEdge()
	if edge.Pool() != pool {
		t.Fatal("expected the edge to be bound to link_pool")
	}
}

func TestParsePoolMissingDepthIsAnError(t *testing.T) {
	path := writeManifest(t, `
pool link_pool
  jobs = 2
`)
	if _, err := Parse(path); err == nil {
		t.Fatal("expected an error for a pool without a depth line")
	} else if !strings.Contains(err.Error(), "unexpected variable 'jobs'") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseUnknownPoolReferenceIsAnError(t *testing.T) {
	path := writeManifest(t, `
rule link
  command = link $in -o $out
  pool = missing_pool

build out: link in.o
`)
	if _, err := Parse(path); err == nil {
		t.Fatal("expected an error referencing an undeclared pool")
	} else if !strings.Contains(err.Error(), "unknown pool name 'missing_pool'") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseSubninjaIsUnsupported(t *testing.T) {
	path := writeManifest(t, `
subninja other.ninja
`)
	if _, err := Parse(path); err == nil {
		t.Fatal("expected an error for subninja")
	} else if !strings.Contains(err.Error(), "subninja not supported") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseInclude(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.ninja")
	if err := os.WriteFile(rulesPath, []byte("rule cc\n  command = cc $in -o $out\n"), 0o644); err != nil {
		t.Fatalf("writing rules.ninja: %v", err)
	}
	mainPath := filepath.Join(dir, "build.ninja")
	content := "include " + rulesPath + "\n\nbuild out.o: cc in.c\n"
	if err := os.WriteFile(mainPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing build.ninja: %v", err)
	}
	g, err := Parse(mainPath)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.LookupNode("out.o").InEdge() == nil {
		t.Fatal("expected the included rule to produce a working edge")
	}
}

func TestParseDefaultTargets(t *testing.T) {
	path := writeManifest(t, `
rule cc
  command = cc $in -o $out

build a.o: cc a.c
build b.o: cc b.c

default a.o b.o
`)
	g, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defaults := g.Defaults()
	if len(defaults) != 2 {
		t.Fatalf("expected 2 default targets, got %d", len(defaults))
	}
	if defaults[0].Path() != "a.o" || defaults[1].Path() != "b.o" {
		t.Fatalf("unexpected default order: %v", defaults)
	}
}

func TestParseEdgeLevelBindingShadowsGlobal(t *testing.T) {
	path := writeManifest(t, `
cflags = -O2
rule cc
  command = cc $cflags -c $in -o $out

build out.o: cc in.c
  cflags = -O0 -g
`)
	g, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	edge := g.LookupNode("out.o").InEdge()
	if got, want := edge.EvaluateCommand(), "cc -O0 -g -c in.c -o out.o"; got != want {
		t.Fatalf("got command %q, want %q", got, want)
	}
}

func TestParseDollarEscapesInPaths(t *testing.T) {
	path := writeManifest(t, `
rule cc
  command = cc $in -o $out

build weird$ name.o: cc in.c
`)
	g, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.LookupNode("weird name.o") == nil {
		t.Fatal("expected the escaped-space output to be interned as one path")
	}
}
