// Package sandbox implements the Host that the template engine drives:
// it binds puts/@, header, flush, die, exit, xml and html.<tag> onto an
// embedded script Engine, plus the pre-bound params/headers/body
// values, and tracks the cooperative termination flag exit()/die()
// raise. Two Engine implementations exist, selected at build time: the
// default modernc.org/quickjs backend and a v8go backend under the
// "v8" build tag.
package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	gohtml "golang.org/x/net/html"

	"github.com/gahr/scgi-go/internal/htmltags"
	"github.com/gahr/scgi-go/internal/params"
	"github.com/gahr/scgi-go/internal/response"
)

// Engine is the minimal surface a script backend must provide. Both
// backends register host functions via reflection: a registered Go
// function returning (T, error) surfaces a non-nil error to the script
// as a thrown exception.
type Engine interface {
	// RegisterFunc exposes fn as a callable global named name.
	RegisterFunc(name string, fn any) error
	// SetGlobal binds value (JSON-marshalable) as a global variable.
	SetGlobal(name string, value any) error
	// Eval runs js at top level and reports a script exception or
	// compile failure as a Go error.
	Eval(js string) error
	// Terminate aborts an Eval in flight as soon as the engine can
	// manage it; safe to call from another goroutine, a no-op if no
	// Eval is running.
	Terminate()
	// Close releases the engine. Must not be called while Eval is in
	// flight.
	Close()
}

// Host implements template.Host over an Engine.
type Host struct {
	engine Engine
	resp   *response.Buffer
	conn   io.Writer

	terminated atomic.Bool
	lastErr    string
}

// New builds a Host bound to engine and writing its eventual flush to
// conn, with the sandbox contract's bindings and pre-bound values
// (params/headers/body) already installed.
func New(engine Engine, conn io.Writer, headers map[string]string, body []byte, requestParams map[string]params.Field) (*Host, error) {
	h := &Host{engine: engine, resp: response.New(), conn: conn}
	if err := h.bind(headers, body, requestParams); err != nil {
		return nil, err
	}
	return h, nil
}

const bootstrapPrelude = `
globalThis.puts = function(s) { __raw_puts(s === undefined ? "" : String(s)); };
globalThis.header = function(key, value, replace) {
	__raw_header(String(key), value === undefined ? "" : String(value), replace === undefined ? true : !!replace);
};
globalThis.flush = function() { __raw_flush(); };
globalThis.die = function(msg) { __raw_die(msg === undefined ? "" : String(msg)); };
globalThis.exit = function() { __raw_exit(); };
globalThis.xml = function() { __raw_xml(Array.prototype.slice.call(arguments).join(" ")); };
`

func (h *Host) bind(headers map[string]string, body []byte, requestParams map[string]params.Field) error {
	raw := map[string]any{
		"__raw_puts":   h.puts,
		"__raw_header": h.header,
		"__raw_flush":  h.flush,
		"__raw_die":    h.die,
		"__raw_exit":   h.exit,
		"__raw_xml":    h.xml,
	}
	for name, fn := range raw {
		if err := h.engine.RegisterFunc(name, fn); err != nil {
			return fmt.Errorf("sandbox: registering %s: %w", name, err)
		}
	}

	var boot strings.Builder
	boot.WriteString(bootstrapPrelude)
	boot.WriteString("globalThis.html = {};\n")
	for tag := range htmltags.Catalog {
		rawName := "__raw_html_" + sanitizeIdent(tag)
		tagName := tag
		render := func(attrsJSON, children string) (string, error) {
			attrs := map[string]string{}
			if attrsJSON != "" && attrsJSON != "{}" {
				if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
					return "", fmt.Errorf("sandbox: html.%s: invalid attrs: %w", tagName, err)
				}
			}
			return htmltags.Render(tagName, attrs, children), nil
		}
		if err := h.engine.RegisterFunc(rawName, render); err != nil {
			return fmt.Errorf("sandbox: registering %s: %w", rawName, err)
		}
		fmt.Fprintf(&boot, "globalThis.html[%q] = function(attrs, children) { return %s(JSON.stringify(attrs || {}), children === undefined ? \"\" : String(children)); };\n", tagName, rawName)
	}
	if err := h.engine.Eval(boot.String()); err != nil {
		return fmt.Errorf("sandbox: bootstrap: %w", err)
	}

	if err := h.engine.SetGlobal("params", toJSParams(requestParams)); err != nil {
		return fmt.Errorf("sandbox: binding params: %w", err)
	}
	if err := h.engine.SetGlobal("headers", headers); err != nil {
		return fmt.Errorf("sandbox: binding headers: %w", err)
	}
	if err := h.engine.SetGlobal("body", string(body)); err != nil {
		return fmt.Errorf("sandbox: binding body: %w", err)
	}
	return nil
}

func sanitizeIdent(tag string) string {
	return strings.Map(func(r rune) rune {
		if r == '!' {
			return -1
		}
		return r
	}, tag)
}

func toJSParams(fields map[string]params.Field) map[string]any {
	out := make(map[string]any, len(fields))
	for name, f := range fields {
		if f.Filename != "" {
			out[name] = map[string]any{
				"filename":    f.Filename,
				"contentType": f.ContentType,
				"data":        string(f.Data),
			}
			continue
		}
		out[name] = f.Value
	}
	return out
}

func (h *Host) puts(data string) error {
	h.resp.Puts(data)
	return nil
}

func (h *Host) header(key, value string, replace bool) error {
	h.resp.Header(key, value, replace)
	return nil
}

func (h *Host) flush() error {
	h.resp.Flush(h.conn)
	return nil
}

func (h *Host) die(msg string) error {
	if msg == "" {
		msg = h.lastErr
	}
	if msg == "" {
		msg = "unknown error"
	}
	h.resp.Header("Status", "500 Internal server error", true)
	h.resp.Puts("<pre>")
	h.resp.Puts(gohtml.EscapeString(msg))
	h.resp.Puts("</pre>")
	h.terminated.Store(true)
	return nil
}

// Die implements the die() sandbox call directly from Go, used by the
// worker when template.Run itself reports a mode-precondition
// violation before any script fragment has a chance to call die().
func (h *Host) Die(msg string) {
	_ = h.die(msg)
}

func (h *Host) exit() error {
	h.terminated.Store(true)
	return nil
}

func (h *Host) xml(joined string) error {
	h.resp.Puts(htmltags.XML(joined))
	return nil
}

// EmitHTML implements template.Host.
func (h *Host) EmitHTML(text string) {
	h.resp.Puts(text)
}

// Execute implements template.Host. "@ expr" is the short tag form
// (spec's `<?@ expr ?>`): @ is not a legal script identifier, so it is
// rewritten to puts(expr) before reaching the engine. A script error is
// trapped here and turned into die(), matching the propagation rule
// that a failing fragment does not poison the worker.
func (h *Host) Execute(source string) error {
	source = rewriteAt(source)
	if err := h.engine.Eval(source); err != nil {
		h.lastErr = err.Error()
		return h.die(err.Error())
	}
	return nil
}

func rewriteAt(source string) string {
	trimmed := strings.TrimSpace(source)
	if !strings.HasPrefix(trimmed, "@") {
		return source
	}
	return "puts(" + strings.TrimSpace(trimmed[1:]) + ")"
}

// Terminated implements template.Host.
func (h *Host) Terminated() bool {
	return h.terminated.Load()
}

// IsComplete implements template.Host: a fragment is complete once its
// brackets, parens and braces balance outside of string/template
// literals, the closest engine-agnostic analogue to asking the
// interpreter itself.
func (h *Host) IsComplete(source string) bool {
	return isBalanced(rewriteAt(source))
}

// ForceStop aborts a script that is still running inside Execute
// (called from a watchdog goroutine) and marks the host terminated so
// template.Run stops as soon as Execute returns.
func (h *Host) ForceStop() {
	h.terminated.Store(true)
	h.engine.Terminate()
}

// FlushDefault flushes the response if the template never called
// flush() itself; response.Buffer.Flush is idempotent, so this is safe
// to call unconditionally once template.Run returns.
func (h *Host) FlushDefault() {
	h.resp.Flush(h.conn)
}

// RespondError writes a final response directly, bypassing script
// execution — used for failures (404 resolution, a script-not-found
// read error) that occur before any template runs. body is Go-generated
// and already known-good, so it bypasses the UTF-8 sanitization Puts
// applies to script output.
func (h *Host) RespondError(status, body string) {
	h.resp.Header("Status", status, true)
	h.resp.PutBytes([]byte(body))
	h.resp.Flush(h.conn)
}

// Flushed reports whether the response has already been written, either
// because the template's own script called flush() or because
// RespondError or FlushDefault already ran. die() and exit() do not
// flush.
func (h *Host) Flushed() bool {
	return h.resp.Flushed()
}

func isBalanced(src string) bool {
	var stack []byte
	inString := byte(0)
	escaped := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inString != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == inString:
				inString = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			inString = c
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 {
				return false
			}
			top := stack[len(stack)-1]
			if (c == ')' && top != '(') || (c == ']' && top != '[') || (c == '}' && top != '{') {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0 && inString == 0
}
