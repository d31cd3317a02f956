// Package script runs user-supplied code for code nodes inside a Risor VM
// that only sees an explicit set of bindings: the run's input data, the
// results recorded so far, a console that writes to the run logger, and the
// json, math and time modules. No filesystem, network, process or import
// facilities are reachable from a script.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/runnel/log"
	"github.com/risor-io/risor"
	"github.com/risor-io/risor/builtins"
	modjson "github.com/risor-io/risor/modules/json"
	modmath "github.com/risor-io/risor/modules/math"
	modtime "github.com/risor-io/risor/modules/time"
	"github.com/risor-io/risor/object"
)

// DefaultTimeout bounds a single script execution.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned when a script exceeds its time budget.
var ErrTimeout = errors.New("script timed out")

// Bindings are the values a script can see.
type Bindings struct {
	Data    any
	Results map[string]any
	Logger  log.Logger
}

// Options configures a Sandbox.
type Options struct {
	Timeout time.Duration
}

// Sandbox executes scripts with a fixed, capability-restricted global set.
type Sandbox struct {
	timeout time.Duration
}

// New returns a Sandbox.
func New(opts Options) *Sandbox {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Sandbox{timeout: opts.Timeout}
}

// Run executes source as the body of a function, so `return` yields the
// script's result. A script without a return statement yields nil.
//
// The VM runs on its own goroutine. When the timeout or ctx expires first,
// Run returns immediately and the VM is left to observe the cancelled
// context on its own.
func (s *Sandbox) Run(ctx context.Context, source string, bindings Bindings) (any, error) {
	globals, err := s.globals(bindings)
	if err != nil {
		return nil, err
	}
	program := "func __node_main() {\n" + source + "\n}\n__node_main()"

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		done <- eval(runCtx, program, globals)
	}()

	select {
	case out := <-done:
		if out.err != nil && runCtx.Err() != nil {
			return nil, s.interrupted(ctx)
		}
		return out.value, out.err
	case <-runCtx.Done():
		return nil, s.interrupted(ctx)
	}
}

// interrupted reports why a script was stopped: the caller's context ending
// takes precedence over the sandbox's own timeout.
func (s *Sandbox) interrupted(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrTimeout
}

type outcome struct {
	value any
	err   error
}

func eval(ctx context.Context, program string, globals map[string]any) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("script panicked: %v", r)}
		}
	}()
	value, err := risor.Eval(ctx, program,
		risor.WithoutDefaultGlobals(),
		risor.WithGlobals(globals),
	)
	if err != nil {
		return outcome{err: err}
	}
	if errObj, ok := value.(*object.Error); ok {
		return outcome{err: errObj.Value()}
	}
	return outcome{value: value.Interface()}
}

func (s *Sandbox) globals(bindings Bindings) (map[string]any, error) {
	data, err := plain(bindings.Data)
	if err != nil {
		return nil, fmt.Errorf("binding data: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	results, err := plain(bindings.Results)
	if err != nil {
		return nil, fmt.Errorf("binding results: %w", err)
	}
	if results == nil {
		results = map[string]any{}
	}
	logger := bindings.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}

	globals := make(map[string]any)
	for name, fn := range builtins.Builtins() {
		globals[name] = fn
	}
	globals["data"] = data
	globals["results"] = results
	globals["console"] = consoleModule(logger)
	globals["json"] = modjson.Module()
	globals["math"] = modmath.Module()
	globals["time"] = modtime.Module()
	return globals, nil
}

// plain converts v into JSON-compatible maps, slices and scalars. Scripts
// receive copies, so they cannot mutate engine state.
func plain(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func consoleModule(logger log.Logger) *object.Module {
	printer := func(level string) *object.Builtin {
		return object.NewBuiltin(level, func(ctx context.Context, args ...object.Object) object.Object {
			parts := make([]string, 0, len(args))
			for _, arg := range args {
				parts = append(parts, fmt.Sprint(arg.Interface()))
			}
			message := strings.Join(parts, " ")
			if level == "error" {
				logger.Error("code node output", "message", message)
			} else {
				logger.Info("code node output", "message", message)
			}
			return object.Nil
		})
	}
	return object.NewBuiltinsModule("console", map[string]object.Object{
		"log":   printer("log"),
		"error": printer("error"),
	})
}
