// Package scripthost hosts the embedded scripting runtime behind a single,
// process-wide, thread-safe gate. It realizes the script-host bridge
// contract: a one-time Initialize (there is no shutdown call; Clear
// disposes the cached namespaces), an exclusive acquire guard that is not
// reentrant, and per-module namespace creation, introspection, and
// invocation.
//
// The embedded runtime itself is github.com/dop251/goja, grounded on the
// teacher's internal/providers/browser/sandbox package, which already
// wraps goja with global stripping and console capture; this package
// generalizes that single-sandbox wrapper into the spec's multi-namespace,
// multi-module bridge.
package scripthost

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/SebastianBathrick/dporch/internal/logging"
)

// Bridge is the process-wide gate around the scripting runtime. There
// must be exactly one live Bridge per process.
type Bridge struct {
	mu sync.Mutex // the runtime's exclusive execution right

	initialized bool
	searchRoot  string
	logger      *logging.Logger

	modules     map[string]*namespace
	moduleIndex map[string]string // import name -> file path, built once at Initialize
	autoKeySeq  int

	none goja.Value // cached None-equivalent
}

type namespace struct {
	vm *goja.Runtime
}

// New constructs an un-initialized Bridge.
func New(logger *logging.Logger) *Bridge {
	return &Bridge{
		logger:  logger,
		modules: make(map[string]*namespace),
	}
}

// Initialize must be called exactly once per process before any script
// step touches the bridge. runtimeLocator is accepted for contract parity
// with spec.md's initialize(runtime_locator, module_search_root); goja is
// embedded in-process, so the locator is ignored.
func (b *Bridge) Initialize(runtimeLocator, moduleSearchRoot string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return fmt.Errorf("scripthost: bridge already initialized")
	}
	b.searchRoot = moduleSearchRoot
	b.initialized = true

	if moduleSearchRoot != "" {
		files, err := Index(moduleSearchRoot)
		if err != nil {
			return fmt.Errorf("scripthost: initialize: %w", err)
		}
		b.moduleIndex = make(map[string]string, len(files))
		for _, f := range files {
			rel, err := filepath.Rel(moduleSearchRoot, f)
			if err != nil {
				continue
			}
			name := strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
			b.moduleIndex[name] = f
		}
		b.logger.Sugar().Debugw("indexed module search root", "root", moduleSearchRoot, "modules", len(files))
	}

	tmp := goja.New()
	b.none = goja.Null()
	_ = tmp
	return nil
}

// Acquire returns a scoped acquisition of the runtime's exclusive
// execution right. Release must be called exactly once. Acquire is safe
// to call from any goroutine; contention serializes across them. It is
// not reentrant: a goroutine that already holds an acquisition and calls
// Acquire again blocks forever.
func (b *Bridge) Acquire() *Acquisition {
	b.mu.Lock()
	return &Acquisition{bridge: b}
}

// Acquisition is a held execution right. It is not safe for concurrent
// use by multiple goroutines; it represents one thread's hold.
type Acquisition struct {
	bridge   *Bridge
	released bool
}

// Release gives up the execution right. Calling Release twice is a no-op.
func (a *Acquisition) Release() {
	if a.released {
		return
	}
	a.released = true
	a.bridge.mu.Unlock()
}

// None returns the cached null-equivalent value.
func (b *Bridge) None() goja.Value { return b.none }

func (b *Bridge) requireInitialized() error {
	if !b.initialized {
		return fmt.Errorf("scripthost: bridge not initialized")
	}
	return nil
}
