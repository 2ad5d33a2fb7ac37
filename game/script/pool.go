// Package script evaluates catalog formulas (answer_expr) inside a pool of
// sandboxed goja VMs.
package script

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a script exceeds the execution time limit.
var ErrTimeout = errors.New("script: execution timed out")

// ErrPanic is returned when the runtime panics while evaluating a script.
var ErrPanic = errors.New("script: runtime panic")

// VMPool is a thread-safe pool of pre-initialised goja runtimes.
type VMPool struct {
	pool    chan *goja.Runtime
	timeout time.Duration
	logger  *zap.Logger
	size    int
}

// NewVMPool creates a VMPool with the given concurrency size and per-script timeout.
func NewVMPool(size int, timeout time.Duration, logger *zap.Logger) *VMPool {
	if size <= 0 {
		size = 4
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	p := &VMPool{
		pool:    make(chan *goja.Runtime, size),
		timeout: timeout,
		logger:  logger,
		size:    size,
	}
	for i := 0; i < size; i++ {
		p.pool <- newSafeVM()
	}
	return p
}

// Size returns the number of VMs in the pool.
func (p *VMPool) Size() int { return p.size }

// Run executes prog inside a pooled VM with globals bound for the duration
// of the call. It returns the completion value of the program.
func (p *VMPool) Run(ctx context.Context, prog *goja.Program, globals map[string]interface{}) (goja.Value, error) {
	select {
	case vm := <-p.pool:
		// keep is cleared when the VM is tainted by an interrupt and must be
		// replaced instead of returned.
		keep := true
		defer func() {
			if keep {
				p.pool <- vm
			} else {
				p.pool <- newSafeVM()
			}
		}()
		return p.runVM(ctx, vm, prog, globals, &keep)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *VMPool) runVM(ctx context.Context, vm *goja.Runtime, prog *goja.Program, globals map[string]interface{}, keep *bool) (goja.Value, error) {
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return nil, err
		}
	}
	defer func() {
		g := vm.GlobalObject()
		for name := range globals {
			_ = g.Delete(name)
		}
	}()

	timer := time.AfterFunc(p.timeout, func() { vm.Interrupt(ErrTimeout) })
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer func() {
		timer.Stop()
		stop()
		if *keep {
			vm.ClearInterrupt()
		}
	}()

	var result goja.Value
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("goja panic", zap.Any("recover", r))
				runErr = ErrPanic
				*keep = false
			}
		}()
		result, runErr = vm.RunProgram(prog)
	}()

	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			*keep = false
			if err, ok := interrupted.Value().(error); ok {
				return nil, err
			}
			return nil, ErrTimeout
		}
		var ex *goja.Exception
		if errors.As(runErr, &ex) {
			return nil, errors.New(ex.Error())
		}
		return nil, runErr
	}
	return result, nil
}

// newSafeVM creates a goja Runtime with dangerous globals removed and a
// deterministic Math.random.
func newSafeVM() *goja.Runtime {
	vm := goja.New()
	for _, name := range []string{"require", "process", "fetch", "XMLHttpRequest", "eval", "Function"} {
		_ = vm.Set(name, goja.Undefined())
	}
	if m := vm.Get("Math"); m != nil {
		_ = m.ToObject(vm).Set("random", func() float64 { return 0 })
	}
	return vm
}
