// Package template implements the line-oriented template FSM: literal
// HTML interleaved with <? ... ?>-delimited script fragments, processed
// line by line with a single mode bit (HTML or SCRIPT) and a
// pending-source accumulator carried across lines. The five per-line
// cases (A-E) are kept as a direct, un-tokenized two-index scan rather
// than a full tokenizer.
package template

import (
	"bufio"
	"fmt"
	"strings"
)

type mode int

const (
	modeHTML mode = iota
	modeScript
)

// Host is what the template engine needs from the sandbox to run a
// template: emit literal HTML, execute a script fragment, and report
// whether execution should stop early (the exit()/terminate flag) or
// has already failed fatally (die()).
type Host interface {
	// EmitHTML appends literal HTML text to the response body.
	EmitHTML(text string)
	// Execute runs one script fragment. Source accumulated line by line
	// inside a <? block, and a dangling fragment at EOF, are passed to
	// IsComplete (below) first; a fragment closed by ?> is executed
	// without that check.
	Execute(source string) error
	// Terminated reports whether the sandbox's termination flag (set by
	// exit() or die()) has been raised; template processing must stop
	// (without error) as soon as this becomes true.
	Terminated() bool
	// IsComplete reports whether source is a syntactically complete
	// script fragment on its own. It decides whether the source pending
	// after a line inside a <? block runs right away, and whether a
	// dangling final fragment (EOF reached inside a <? block with no
	// closing ?>) is executed or silently discarded.
	IsComplete(source string) bool
}

// DieError is returned by Run when a mode-precondition violation occurs:
// a "?>" seen while in HTML mode, or a bare "<?" seen while already in
// SCRIPT mode. Callers translate this into the sandbox's die() behavior
// (a 500 response).
type DieError struct {
	Path string
	Line int
	Msg  string
}

func (e *DieError) Error() string {
	return fmt.Sprintf("%s:%d -- %s", e.Path, e.Line, e.Msg)
}

// Run scans src line by line against host. path is used only to build
// DieError messages.
func Run(path string, src string, host Host) error {
	scanner := bufio.NewScanner(strings.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	m := modeHTML
	var pending strings.Builder
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		if host.Terminated() {
			return nil
		}
		line := scanner.Text()
		scan := 0

		for {
			b := indexFrom(line, "<?", scan)
			e := indexFrom(line, "?>", scan)

			switch {
			case b == -1 && e == -1: // Case A
				if m == modeHTML {
					host.EmitHTML(line[scan:])
				} else {
					pending.WriteString(line[scan:])
					pending.WriteByte('\n')
					if host.IsComplete(pending.String()) {
						if err := host.Execute(pending.String()); err != nil {
							return err
						}
						pending.Reset()
						if host.Terminated() {
							return nil
						}
					}
				}
				goto nextLine

			case b >= 0 && e == -1: // Case B
				if m != modeHTML {
					return &DieError{path, lineNo, "invalid <? block"}
				}
				host.EmitHTML(line[scan:b])
				pending.WriteString(line[b+2:])
				pending.WriteByte('\n')
				m = modeScript
				goto nextLine

			case b == -1 && e >= 0: // Case C
				if m != modeScript {
					return &DieError{path, lineNo, "invalid ?> block"}
				}
				pending.WriteString(line[scan:e])
				if err := host.Execute(pending.String()); err != nil {
					return err
				}
				pending.Reset()
				if host.Terminated() {
					return nil
				}
				m = modeHTML
				host.EmitHTML(line[e+2:])
				goto nextLine

			case b >= 0 && e >= 0 && b < e: // Case D
				if m != modeHTML {
					return &DieError{path, lineNo, "invalid <? block"}
				}
				host.EmitHTML(line[scan:b])
				if err := host.Execute(line[b+2 : e]); err != nil {
					return err
				}
				if host.Terminated() {
					return nil
				}
				scan = e + 2
				continue

			default: // Case E: 0 <= e < b
				if m != modeScript {
					return &DieError{path, lineNo, "invalid ?> block"}
				}
				pending.WriteString(line[scan:e])
				if err := host.Execute(pending.String()); err != nil {
					return err
				}
				pending.Reset()
				if host.Terminated() {
					return nil
				}
				m = modeHTML
				host.EmitHTML(line[e+2 : b])
				m = modeScript
				scan = b + 2
				continue
			}
		}
	nextLine:
		if m == modeHTML {
			host.EmitHTML("\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	// EOF reached with a dangling fragment: execute it only if it
	// happens to be syntactically complete on its own; otherwise
	// discard silently with no error.
	if pending.Len() > 0 && host.IsComplete(pending.String()) {
		if err := host.Execute(pending.String()); err != nil {
			return err
		}
	}
	return nil
}

func indexFrom(s, sub string, from int) int {
	if from > len(s) {
		return -1
	}
	i := strings.Index(s[from:], sub)
	if i == -1 {
		return -1
	}
	return i + from
}
