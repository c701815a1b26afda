// Package response implements the per-request response buffer: an
// insertion-ordered header map, a body byte buffer, and a one-shot
// flush that applies defaults and writes the whole response in a
// single call.
package response

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// sanitizeUTF8 replaces ill-formed UTF-8 sequences with the Unicode
// replacement character before bytes reach the wire. Script-produced
// strings cross the JS/Go boundary as UTF-16 internally in both sandbox
// backends; pathological inputs (e.g. lone surrogates from
// String.fromCharCode) can otherwise surface as invalid UTF-8 in the
// response body, so every write transcodes to valid UTF-8 first.
var sanitizeUTF8 = runes.ReplaceIllFormed()

func sanitize(s string) string {
	out, _, err := transform.String(sanitizeUTF8, s)
	if err != nil {
		return s
	}
	return out
}

// Buffer accumulates response headers and body for one request and
// flushes them exactly once.
type Buffer struct {
	names   []string // insertion order
	headers map[string]string
	body    bytes.Buffer
	flushed bool
	hasStat bool
}

// New returns an empty response buffer.
func New() *Buffer {
	return &Buffer{headers: make(map[string]string)}
}

// Header sets a response header: names are title-cased, a flushed
// buffer silently drops the write, and replace=false leaves an existing
// value untouched. Setting "Location" implicitly sets "Status" to
// "302 Found" unless a Status has already been set.
func (b *Buffer) Header(key, value string, replace bool) {
	if b.flushed {
		return
	}
	key = titleCase(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	if _, exists := b.headers[key]; exists && !replace {
		return
	}
	if _, exists := b.headers[key]; !exists {
		b.names = append(b.names, key)
	}
	b.headers[key] = value

	if key == "Status" {
		b.hasStat = true
	}
	if key == "Location" {
		if !b.hasStat {
			b.setDefaultLocked("Status", "302 Found")
		}
	}
}

// setDefaultLocked sets key only if absent, bypassing the flushed/replace
// checks — used internally for defaults applied at flush time and for
// the Location->Status implicit rule.
func (b *Buffer) setDefaultLocked(key, value string) {
	if _, exists := b.headers[key]; exists {
		return
	}
	b.names = append(b.names, key)
	b.headers[key] = value
	if key == "Status" {
		b.hasStat = true
	}
}

// Puts appends data to the response body; dropped silently once
// flushed.
func (b *Buffer) Puts(data string) {
	if b.flushed {
		return
	}
	b.body.WriteString(sanitize(data))
}

// PutBytes appends raw bytes to the body without UTF-8 sanitization
// (used for content that is already known-good, e.g. Go-generated error
// bodies or static includes, as opposed to script-produced strings).
func (b *Buffer) PutBytes(data []byte) {
	if b.flushed {
		return
	}
	b.body.Write(data)
}

// Flushed reports whether Flush has already run.
func (b *Buffer) Flushed() bool { return b.flushed }

// Flush applies defaults, serializes headers + a blank line + body, and
// writes the whole sequence to w in one call. Flush is idempotent: a
// second call is a no-op. Write errors are swallowed, since the client
// may already be gone.
func (b *Buffer) Flush(w io.Writer) {
	if b.flushed {
		return
	}
	b.flushed = true

	b.setDefaultLocked("Status", "200")
	b.setDefaultLocked("Content-type", "text/html;charset=utf-8")

	var out bytes.Buffer
	for _, name := range b.names {
		fmt.Fprintf(&out, "%s: %s\n", name, b.headers[name])
	}
	out.WriteByte('\n')
	out.Write(b.body.Bytes())

	_, _ = w.Write(out.Bytes())
}

// titleCase renders a header name with only its very first letter
// uppercased, the rest lowercased, hyphens left alone — "Content-type",
// not "Content-Type". This mirrors Tcl's `string totitle` (which
// title-cases just the first character of the whole string), not
// HTTP's per-word canonical form.
func titleCase(name string) string {
	if name == "" {
		return name
	}
	lower := strings.ToLower(name)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
