package script

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sync"

	"github.com/dop251/goja"
	"github.com/physquest/server/config"
	"go.uber.org/zap"
)

// ErrNotNumber is returned when a formula does not evaluate to a finite number.
var ErrNotNumber = errors.New("script: result is not a finite number")

// ErrBadVar is returned for a variable name that is not a plain identifier.
var ErrBadVar = errors.New("script: invalid variable name")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Evaluator compiles and evaluates numeric formulas such as
// "Math.sqrt(2*tau*theta/(0.5*m*r*r))". Compiled programs are cached by
// source text.
type Evaluator struct {
	pool     *VMPool
	logger   *zap.Logger
	programs sync.Map // string -> *goja.Program
}

// NewEvaluator creates an Evaluator backed by a VMPool sized from cfg.
func NewEvaluator(cfg config.ScriptConfig, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		pool:   NewVMPool(cfg.VMPoolSize, cfg.Timeout, logger),
		logger: logger,
	}
}

// Compile parses expr, caching the result.
func (e *Evaluator) Compile(expr string) (*goja.Program, error) {
	if p, ok := e.programs.Load(expr); ok {
		return p.(*goja.Program), nil
	}
	prog, err := goja.Compile("formula", "("+expr+")", true)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, err)
	}
	e.programs.Store(expr, prog)
	return prog, nil
}

// Eval evaluates expr with vars bound as globals and returns the result.
func (e *Evaluator) Eval(ctx context.Context, expr string, vars map[string]float64) (float64, error) {
	prog, err := e.Compile(expr)
	if err != nil {
		return 0, err
	}
	globals := make(map[string]interface{}, len(vars))
	for name, v := range vars {
		if !identRe.MatchString(name) {
			return 0, fmt.Errorf("%w: %q", ErrBadVar, name)
		}
		globals[name] = v
	}

	val, err := e.pool.Run(ctx, prog, globals)
	if err != nil {
		e.logger.Warn("formula evaluation failed",
			zap.String("expr", truncate(expr, 80)),
			zap.Error(err))
		return 0, err
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return 0, ErrNotNumber
	}
	f := val.ToFloat()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNotNumber
	}
	return f, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
