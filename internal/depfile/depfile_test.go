package depfile

import (
	"reflect"
	"testing"
)

func TestParseSimpleRule(t *testing.T) {
	p, err := Parse("out.o: in1.h in2.h\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Target != "out.o" {
		t.Fatalf("got target %q, want %q", p.Target, "out.o")
	}
	want := []string{"in1.h", "in2.h"}
	if !reflect.DeepEqual(p.Deps, want) {
		t.Fatalf("got deps %v, want %v", p.Deps, want)
	}
}

func TestParseLineContinuation(t *testing.T) {
	p, err := Parse("out.o: in1.h \\\n  in2.h \\\n  in3.h\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"in1.h", "in2.h", "in3.h"}
	if !reflect.DeepEqual(p.Deps, want) {
		t.Fatalf("got deps %v, want %v", p.Deps, want)
	}
}

func TestParseEscapedSpace(t *testing.T) {
	p, err := Parse(`out.o: with\ space.h`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"with space.h"}
	if !reflect.DeepEqual(p.Deps, want) {
		t.Fatalf("got deps %v, want %v", p.Deps, want)
	}
}

func TestParseMissingColonIsError(t *testing.T) {
	if _, err := Parse("out.o in1.h in2.h"); err == nil {
		t.Fatal("expected error for a depfile with no ':'")
	}
}
