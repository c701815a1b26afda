//go:build v8

// Package v8engine implements sandbox.Engine on top of tommie/v8go,
// selected in place of the default modernc.org/quickjs backend by
// building with `-tags v8`.
package v8engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	v8 "github.com/tommie/v8go"

	"github.com/gahr/scgi-go/internal/sandbox"
)

// Engine wraps one v8go Isolate+Context pair as a sandbox.Engine.
type Engine struct {
	mu  sync.Mutex
	iso *v8.Isolate
	ctx *v8.Context
}

// New creates a fresh isolate and context, capping its heap around
// memoryLimitMB megabytes (0 leaves v8's own defaults in place).
// Grounded on cryguy-worker's internal/v8engine/pool.go v8Pool.get.
func New(memoryLimitMB int) (*Engine, error) {
	var iso *v8.Isolate
	if memoryLimitMB > 0 {
		low := uint(memoryLimitMB / 2)
		if low == 0 {
			low = 1
		}
		iso = v8.NewIsolate(v8.WithResourceConstraints(low, uint(memoryLimitMB)))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	return &Engine{iso: iso, ctx: ctx}, nil
}

// RegisterFunc adapts fn (a Go function taking string/bool parameters
// and returning either error or (T, error)) into a v8go function
// template via reflection, in the style of cryguy-worker's
// internal/v8engine/runtime.go RegisterFunc.
func (e *Engine) RegisterFunc(name string, fn any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tmpl := v8.NewFunctionTemplate(e.iso, e.wrap(fn))
	fnVal, err := tmpl.GetFunction(e.ctx)
	if err != nil {
		return fmt.Errorf("v8engine: building %s: %w", name, err)
	}
	return e.ctx.Global().Set(name, fnVal)
}

func (e *Engine) wrap(fn any) v8.FunctionCallback {
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	return func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		in := make([]reflect.Value, rt.NumIn())
		for i := 0; i < rt.NumIn(); i++ {
			var arg *v8.Value
			if i < len(args) {
				arg = args[i]
			}
			if rt.In(i).Kind() == reflect.Bool {
				in[i] = reflect.ValueOf(arg != nil && arg.Boolean())
				continue
			}
			s := ""
			if arg != nil {
				s = arg.String()
			}
			in[i] = reflect.ValueOf(s)
		}
		return e.unwrap(rv.Call(in))
	}
}

// unwrap translates a Go call's (T, error) or (error) results into
// either a thrown exception or a returned JS value.
func (e *Engine) unwrap(out []reflect.Value) *v8.Value {
	var result, errv reflect.Value
	switch len(out) {
	case 1:
		errv = out[0]
	case 2:
		result, errv = out[0], out[1]
	}
	if errv.IsValid() && !errv.IsNil() {
		err, _ := errv.Interface().(error)
		excVal, _ := v8.NewValue(e.iso, err.Error())
		return e.iso.ThrowException(excVal)
	}
	if result.IsValid() {
		if v, err := v8.NewValue(e.iso, result.Interface()); err == nil {
			return v
		}
	}
	return nil
}

// SetGlobal assigns value to a global variable by round-tripping it
// through JSON, the same approach the quickjs backend uses.
func (e *Engine) SetGlobal(name string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("v8engine: encoding global %s: %w", name, err)
	}
	return e.Eval(fmt.Sprintf("globalThis[%q] = JSON.parse(%q);", name, string(encoded)))
}

// Eval runs js at top level.
func (e *Engine) Eval(js string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.ctx.RunScript(js, "fragment.js"); err != nil {
		return fmt.Errorf("v8engine: %w", err)
	}
	return nil
}

// Terminate stops the script currently running in the isolate; safe to
// call from another goroutine while Eval is in flight.
func (e *Engine) Terminate() {
	e.iso.TerminateExecution()
}

// Close releases the context and isolate.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx.Close()
	e.iso.Dispose()
}

var _ sandbox.Engine = (*Engine)(nil)
