// Package runner picks an execution backend for a program and runs it.
package runner

import (
	"errors"
	"fmt"
	"io"

	"github.com/krehermann/gcvm/compile"
	"github.com/krehermann/gcvm/heap"
	"github.com/krehermann/gcvm/vm"
	"go.uber.org/zap"
)

var ErrStepLimit = compile.ErrStepLimit

type Backend string

const (
	BackendInterpreter Backend = "interpreter"
	BackendCompiled    Backend = "compiled"
)

type Options struct {
	// zero value means vm.DefaultConfig
	Config vm.Config
	// Compiled asks for the compiled backend. Programs it cannot handle run
	// on the interpreter instead.
	Compiled bool
	Input    vm.Input
	Output   io.Writer
	// StepLimit bounds the number of executed instructions; zero is no limit.
	StepLimit uint64
	Logger    *zap.Logger
}

type Outcome struct {
	Backend Backend
	Result  vm.Result
	Stats   heap.Stats
	Steps   uint64
}

// Run executes code and returns what it left behind. A fault is returned as
// the error together with the outcome up to the fault.
func Run(code []byte, opts Options) (*Outcome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.Named("runner")
	if opts.Config == (vm.Config{}) {
		opts.Config = vm.DefaultConfig()
	}

	if opts.Compiled {
		out, err := runCompiled(code, opts, logger)
		if !errors.Is(err, errFallback) {
			return out, err
		}
	}
	return runInterpreter(code, opts, logger)
}

var errFallback = errors.New("fall back to interpreter")

func runCompiled(code []byte, opts Options, logger *zap.Logger) (*Outcome, error) {
	var steps uint64
	entry, err := compile.Compile(code,
		compile.WithConfig(opts.Config),
		compile.WithStepLimit(opts.StepLimit),
		compile.WithStepCounter(&steps),
		compile.WithLogger(logger),
	)
	if err != nil {
		logger.Warn("compile failed, using interpreter", zap.Error(err))
		return nil, errFallback
	}

	res, err := entry()
	out := &Outcome{
		Backend: BackendCompiled,
		Result:  res,
		Steps:   steps,
	}
	logger.Debug("run finished",
		zap.String("backend", string(out.Backend)),
		zap.Uint64("steps", steps),
		zap.Error(err),
	)
	return out, err
}

func runInterpreter(code []byte, opts Options, logger *zap.Logger) (*Outcome, error) {
	vmOpts := []vm.VMOpt{
		vm.ConfigOpt(opts.Config),
		vm.LoggerOpt(logger),
	}
	if opts.Input != nil {
		vmOpts = append(vmOpts, vm.InputOpt(opts.Input))
	}
	if opts.Output != nil {
		vmOpts = append(vmOpts, vm.OutputOpt(opts.Output))
	}

	machine, err := vm.NewVM(code, vmOpts...)
	if err != nil {
		return nil, err
	}

	err = execute(machine, opts.StepLimit)
	out := &Outcome{
		Backend: BackendInterpreter,
		Result:  machine.Result(),
		Stats:   machine.Heap().Stats(),
		Steps:   machine.Steps(),
	}
	logger.Debug("run finished",
		zap.String("backend", string(out.Backend)),
		zap.Uint64("steps", out.Steps),
		zap.Int("collections", out.Stats.Collections),
		zap.Error(err),
	)
	return out, err
}

func execute(machine *vm.VM, limit uint64) error {
	if limit == 0 {
		return machine.Run()
	}
	for machine.Running() {
		// running off the end executes nothing, so it does not count
		if machine.Steps() >= limit && !machine.AtEnd() {
			return fmt.Errorf("vm run: %w: %d", ErrStepLimit, limit)
		}
		if err := machine.Step(); err != nil {
			return fmt.Errorf("vm run: %w", err)
		}
	}
	return nil
}
