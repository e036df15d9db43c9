package scripthost

import (
	"github.com/dop251/goja"

	"github.com/SebastianBathrick/dporch/internal/logging"
)

// stripDangerousGlobals removes Node-ish globals a host-embedded runtime
// should never expose to user scripts, grounded on the teacher sandbox's
// setupGlobals.
func stripDangerousGlobals(vm *goja.Runtime) error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}
	return nil
}

// installConsole replaces the namespace's console.* functions with
// adapters that forward into the host logger, tagged with the owning
// module key, per spec.md §4.7's stdout/stderr capture requirement.
func installConsole(vm *goja.Runtime, logger *logging.Logger, moduleKey string) {
	console := vm.NewObject()
	console.Set("log", consoleFunc(vm, logger, moduleKey, "info"))
	console.Set("info", consoleFunc(vm, logger, moduleKey, "info"))
	console.Set("warn", consoleFunc(vm, logger, moduleKey, "warn"))
	console.Set("error", consoleFunc(vm, logger, moduleKey, "error"))
	vm.Set("console", console)
}

func consoleFunc(vm *goja.Runtime, logger *logging.Logger, moduleKey, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}

		if logger == nil {
			return goja.Undefined()
		}
		switch level {
		case "warn":
			logger.Sugar().Warnw(msg, "module", moduleKey)
		case "error":
			logger.Sugar().Errorw(msg, "module", moduleKey)
		default:
			logger.Sugar().Infow(msg, "module", moduleKey)
		}
		return goja.Undefined()
	}
}
