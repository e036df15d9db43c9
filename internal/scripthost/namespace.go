package scripthost

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// AddModule creates a fresh namespace under key and caches the result,
// per spec.md §4.7's add_module(key, source_code_or_import_name). sourceOrImport
// is treated as an import name and resolved against the bridge's module
// search root, rather than executed directly, when it looks like a bare
// name rather than script text (isImportName). Duplicate keys are fatal.
func (b *Bridge) AddModule(acq *Acquisition, key, sourceOrImport string) error {
	if err := b.checkAcquired(acq); err != nil {
		return err
	}
	if _, exists := b.modules[key]; exists {
		return fmt.Errorf("scripthost: module key %q already exists", key)
	}

	source := sourceOrImport
	if isImportName(sourceOrImport) {
		path, ok := b.moduleIndex[sourceOrImport]
		if !ok {
			resolved, err := Resolve(b.searchRoot, sourceOrImport)
			if err != nil {
				return fmt.Errorf("scripthost: add module %q: %w", key, err)
			}
			path = resolved
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("scripthost: add module %q: read %s: %w", key, path, err)
		}
		source = string(contents)
	}

	vm := goja.New()
	if err := stripDangerousGlobals(vm); err != nil {
		return fmt.Errorf("scripthost: setup module %q: %w", key, err)
	}
	installConsole(vm, b.logger, key)

	if _, err := vm.RunString(source); err != nil {
		return fmt.Errorf("scripthost: execute module %q top-level: %w", key, err)
	}

	b.modules[key] = &namespace{vm: vm}
	return nil
}

// AddModuleAutoKey generates a fresh unused key, adds the module under it,
// and returns the key. Intended for test isolation, where callers don't
// want to coordinate key uniqueness themselves.
func (b *Bridge) AddModuleAutoKey(acq *Acquisition, source string) (string, error) {
	if err := b.checkAcquired(acq); err != nil {
		return "", err
	}
	for {
		b.autoKeySeq++
		key := "auto-" + strconv.Itoa(b.autoKeySeq)
		if _, exists := b.modules[key]; exists {
			continue
		}
		if err := b.AddModule(acq, key, source); err != nil {
			return "", err
		}
		return key, nil
	}
}

// RemoveModule disposes the cached namespace under key. Idempotent.
func (b *Bridge) RemoveModule(acq *Acquisition, key string) error {
	if err := b.checkAcquired(acq); err != nil {
		return err
	}
	delete(b.modules, key)
	return nil
}

// Clear disposes every cached namespace. Idempotent.
func (b *Bridge) Clear(acq *Acquisition) error {
	if err := b.checkAcquired(acq); err != nil {
		return err
	}
	b.modules = make(map[string]*namespace)
	return nil
}

// IsFunction reports whether module has a callable attribute named fn
// whose recorded argument count equals arity. Non-native callables (no
// recorded argument count) count as true when callable, without arity
// verification.
func (b *Bridge) IsFunction(acq *Acquisition, moduleKey, fn string, arity int) (bool, error) {
	if err := b.checkAcquired(acq); err != nil {
		return false, err
	}
	ns, err := b.namespace(moduleKey)
	if err != nil {
		return false, err
	}

	v := ns.vm.Get(fn)
	if v == nil || goja.IsUndefined(v) {
		return false, nil
	}
	callable, ok := goja.AssertFunction(v)
	if !ok {
		return false, nil
	}

	length := v.ToObject(ns.vm).Get("length")
	if length == nil || goja.IsUndefined(length) {
		_ = callable
		return true, nil
	}
	return int(length.ToInteger()) == arity, nil
}

// FunctionArity returns the recorded argument count of a callable
// attribute named fn in module, and whether it is callable at all.
func (b *Bridge) FunctionArity(acq *Acquisition, moduleKey, fn string) (arity int, callable bool, err error) {
	if err = b.checkAcquired(acq); err != nil {
		return 0, false, err
	}
	ns, err := b.namespace(moduleKey)
	if err != nil {
		return 0, false, err
	}

	v := ns.vm.Get(fn)
	if v == nil || goja.IsUndefined(v) {
		return 0, false, nil
	}
	if _, ok := goja.AssertFunction(v); !ok {
		return 0, false, nil
	}

	length := v.ToObject(ns.vm).Get("length")
	if length == nil || goja.IsUndefined(length) {
		return 0, true, nil
	}
	return int(length.ToInteger()), true, nil
}

// CallFunction invokes fn in module with args, wrapping any runtime error
// into a call error naming the function and argument count.
func (b *Bridge) CallFunction(acq *Acquisition, moduleKey, fn string, args ...any) (goja.Value, error) {
	if err := b.checkAcquired(acq); err != nil {
		return nil, err
	}
	ns, err := b.namespace(moduleKey)
	if err != nil {
		return nil, err
	}

	v := ns.vm.Get(fn)
	callable, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("scripthost: %q is not callable in module %q", fn, moduleKey)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = ns.vm.ToValue(a)
	}

	result, err := callable(goja.Undefined(), jsArgs...)
	if err != nil {
		return nil, fmt.Errorf("scripthost: call %s/%d in module %q: %w", fn, len(args), moduleKey, err)
	}
	return result, nil
}

// IsGlobal reports whether module has a top-level binding named name.
func (b *Bridge) IsGlobal(acq *Acquisition, moduleKey, name string) (bool, error) {
	if err := b.checkAcquired(acq); err != nil {
		return false, err
	}
	ns, err := b.namespace(moduleKey)
	if err != nil {
		return false, err
	}
	v := ns.vm.Get(name)
	return v != nil && !goja.IsUndefined(v), nil
}

// SetGlobal assigns value to module's top-level binding name.
func (b *Bridge) SetGlobal(acq *Acquisition, moduleKey, name string, value any) error {
	if err := b.checkAcquired(acq); err != nil {
		return err
	}
	ns, err := b.namespace(moduleKey)
	if err != nil {
		return err
	}
	return ns.vm.Set(name, value)
}

// ToValue converts a Go value into a goja.Value scoped to module's own VM,
// so the result is safe to pass into later calls against that module.
func (b *Bridge) ToValue(acq *Acquisition, moduleKey string, v any) (goja.Value, error) {
	if err := b.checkAcquired(acq); err != nil {
		return nil, err
	}
	ns, err := b.namespace(moduleKey)
	if err != nil {
		return nil, err
	}
	return ns.vm.ToValue(v), nil
}

func (b *Bridge) namespace(key string) (*namespace, error) {
	ns, ok := b.modules[key]
	if !ok {
		return nil, fmt.Errorf("scripthost: unknown module key %q", key)
	}
	return ns, nil
}

// isImportName reports whether s reads as a bare module import name (e.g.
// "lib/util") rather than script source: no whitespace and none of the
// punctuation that shows up in even a one-line script body.
func isImportName(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n(){};=\"'") {
		return false
	}
	return true
}

// checkAcquired verifies the caller holds a live acquisition of this
// bridge. It does not re-lock: Acquire already took the mutex, and every
// runtime-touching method here runs under that same hold.
func (b *Bridge) checkAcquired(acq *Acquisition) error {
	if acq == nil || acq.bridge != b || acq.released {
		return fmt.Errorf("scripthost: call made without an active acquisition")
	}
	return b.requireInitialized()
}
