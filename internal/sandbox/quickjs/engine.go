// Package quickjs implements sandbox.Engine on top of
// modernc.org/quickjs. It is the default script backend, compiled in
// whenever the "v8" build tag is absent.
package quickjs

import (
	"encoding/json"
	"fmt"
	"sync"

	"modernc.org/quickjs"

	"github.com/gahr/scgi-go/internal/sandbox"
)

// Engine wraps one quickjs.VM as a sandbox.Engine.
type Engine struct {
	mu sync.Mutex
	vm *quickjs.VM
}

// New creates a fresh VM, capping its heap at memoryLimitMB megabytes
// (0 disables the limit). Grounded on cryguy-worker's
// internal/quickjs/pool.go qjsPool.get.
func New(memoryLimitMB int) (*Engine, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("quickjs: new VM: %w", err)
	}
	if memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(memoryLimitMB) * 1024 * 1024)
	}
	return &Engine{vm: vm}, nil
}

// RegisterFunc exposes fn as a global function. The `false` argument
// mirrors cryguy-worker's own RegisterFunc calls (its worker-script
// bindings are never registered as async).
//
// modernc.org/quickjs surfaces a Go function's multi-value return to JS
// as an array [result, errOrNull], not as a thrown exception or a bare
// value. Every binding here returns (T, error) or a bare error, so
// without unwrapping, callers would see arrays instead of values and
// Go errors would never become JS exceptions. name is registered under
// a hidden native name and re-exposed as a wrapper that unwraps the
// array and throws on a non-nil error, exactly as cryguy-worker's own
// RegisterFunc does for its own bindings.
func (e *Engine) RegisterFunc(name string, fn any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	nativeName := "__qjs_native_" + name
	if err := e.vm.RegisterFunc(nativeName, fn, false); err != nil {
		return fmt.Errorf("quickjs: registering %s: %w", name, err)
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			var r = raw.apply(this, arguments);
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %s: " + r[1]);
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, nativeName, name, name, nativeName)
	if err := e.evalLocked(wrapJS); err != nil {
		return fmt.Errorf("quickjs: wrapping %s: %w", name, err)
	}
	return nil
}

// SetGlobal assigns value to a global variable by round-tripping it
// through JSON: the sandbox only ever binds plain strings and
// string-keyed maps, so a JSON.parse in the VM is simpler and safer
// than constructing a quickjs.Value graph by hand.
func (e *Engine) SetGlobal(name string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("quickjs: encoding global %s: %w", name, err)
	}
	return e.Eval(fmt.Sprintf("globalThis[%q] = JSON.parse(%q);", name, string(encoded)))
}

// Eval runs js at top level.
func (e *Engine) Eval(js string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evalLocked(js)
}

// evalLocked is Eval's body, factored out so RegisterFunc can install its
// unwrap wrapper without recursively taking e.mu.
func (e *Engine) evalLocked(js string) error {
	v, err := e.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return fmt.Errorf("quickjs: %w", err)
	}
	v.Free()
	return nil
}

// Terminate interrupts the running Eval. QuickJS checks its interrupt
// flag at bytecode-execution granularity, so this preempts mid-script
// rather than only between top-level fragments.
func (e *Engine) Terminate() {
	e.vm.Interrupt()
}

// Close releases the VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}

var _ sandbox.Engine = (*Engine)(nil)
