package template

import (
	"errors"
	"strings"
	"testing"
)

// fakeHost is a minimal template.Host for exercising the FSM in
// isolation from any real sandbox backend: Execute just records the
// fragment it was given and, if the fragment equals a poison string,
// returns an error (simulating die()).
type fakeHost struct {
	html       strings.Builder
	executed   []string
	terminated bool
	poison     string
	incomplete func(string) bool
}

func (h *fakeHost) EmitHTML(text string) { h.html.WriteString(text) }
func (h *fakeHost) Terminated() bool     { return h.terminated }
func (h *fakeHost) IsComplete(source string) bool {
	if h.incomplete != nil {
		return !h.incomplete(source)
	}
	return true
}
func (h *fakeHost) Execute(source string) error {
	h.executed = append(h.executed, source)
	if h.poison != "" && strings.Contains(source, h.poison) {
		return errors.New("boom: " + source)
	}
	if source == "exit" {
		h.terminated = true
	}
	return nil
}

func TestPureHTMLEmittedVerbatimWithTrailingNewlines(t *testing.T) {
	h := &fakeHost{}
	src := "line one\nline two"
	if err := Run("t.tcl", src, h); err != nil {
		t.Fatal(err)
	}
	want := "line one\nline two\n"
	if h.html.String() != want {
		t.Fatalf("got %q, want %q", h.html.String(), want)
	}
}

func TestCaseDInlineScriptOnOneLine(t *testing.T) {
	h := &fakeHost{}
	if err := Run("t.tcl", "<p><?expr?></p>", h); err != nil {
		t.Fatal(err)
	}
	if h.html.String() != "<p></p>\n" {
		t.Fatalf("got %q", h.html.String())
	}
	if len(h.executed) != 1 || h.executed[0] != "expr" {
		t.Fatalf("got executed=%v", h.executed)
	}
}

func TestCaseBAndCMultiLineScript(t *testing.T) {
	// The first line ends in SCRIPT mode, so no newline follows "before".
	// fakeHost reports every fragment complete, so Case A runs the source
	// accumulated by line two, and Case C then runs the (empty) remainder.
	h := &fakeHost{}
	src := "before<?\nscript body\n?>after"
	if err := Run("t.tcl", src, h); err != nil {
		t.Fatal(err)
	}
	if h.html.String() != "beforeafter\n" {
		t.Fatalf("got %q", h.html.String())
	}
	want := []string{"\nscript body\n", ""}
	if len(h.executed) != len(want) || h.executed[0] != want[0] || h.executed[1] != want[1] {
		t.Fatalf("got executed=%q, want %q", h.executed, want)
	}
}

func TestCaseEBothMarkersOnLineScriptFirst(t *testing.T) {
	// mode starts SCRIPT (simulated by an opening <? on a prior line),
	// then a line contains "?>" before a later "<?": e < b.
	h := &fakeHost{}
	src := "<?\nfrag1?>mid<?frag2?>tail"
	if err := Run("t.tcl", src, h); err != nil {
		t.Fatal(err)
	}
	if h.html.String() != "midtail\n" {
		t.Fatalf("got %q", h.html.String())
	}
	want := []string{"\nfrag1", "frag2"}
	if len(h.executed) != len(want) || h.executed[0] != want[0] || h.executed[1] != want[1] {
		t.Fatalf("got executed=%q, want %q", h.executed, want)
	}
}

func TestCaseEReenteredFragmentAccumulatesOnce(t *testing.T) {
	// Case E must re-enter SCRIPT at line[b+2:] and let the *continued*
	// scan accumulate it (Case A on the next iteration); accumulating it
	// eagerly in Case E too would execute the reentered text twice.
	h := &fakeHost{}
	src := "<?\nbar ?> mid <? baz\n"
	if err := Run("t.tcl", src, h); err != nil {
		t.Fatal(err)
	}
	// The line ends back in SCRIPT mode, so no trailing newline is emitted.
	if h.html.String() != " mid " {
		t.Fatalf("got html=%q", h.html.String())
	}
	want := []string{"\nbar ", " baz\n"}
	if len(h.executed) != len(want) || h.executed[0] != want[0] || h.executed[1] != want[1] {
		t.Fatalf("got executed=%q, want %q (reentered fragment must appear once, not doubled)", h.executed, want)
	}
}

func TestDieOnScriptMarkerInHTMLMode(t *testing.T) {
	h := &fakeHost{}
	// A "?>" appearing while in HTML mode is a precondition violation
	// (case C requires mode=SCRIPT).
	err := Run("t.tcl", "plain html ?> oops", h)
	var dieErr *DieError
	if !errors.As(err, &dieErr) {
		t.Fatalf("expected DieError, got %v", err)
	}
	if dieErr.Line != 1 {
		t.Fatalf("got line %d", dieErr.Line)
	}
}

func TestDanglingUnterminatedBlockTolerated(t *testing.T) {
	h := &fakeHost{incomplete: func(s string) bool { return true }}
	src := "hello<?\nnever closed"
	if err := Run("t.tcl", src, h); err != nil {
		t.Fatal(err)
	}
	if len(h.executed) != 0 {
		t.Fatalf("expected no execution for incomplete trailing fragment, got %v", h.executed)
	}
}

func TestTerminationStopsProcessing(t *testing.T) {
	h := &fakeHost{}
	src := "<?exit?>never shown"
	if err := Run("t.tcl", src, h); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(h.html.String(), "never shown") {
		t.Fatalf("expected processing to stop after termination, got %q", h.html.String())
	}
}

func TestScriptErrorPropagates(t *testing.T) {
	h := &fakeHost{poison: "oops"}
	err := Run("t.tcl", "<?oops?>", h)
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}
