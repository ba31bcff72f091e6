// Package nn is an embeddable inference engine. An Engine loads a model
// container, optionally hands supported nodes to the CPU delegate, allocates
// tensor memory once and then runs forward passes on demand. Input and
// output tensors are exposed as views of engine-owned memory so callers
// read and write them without copies.
//
//	e := nn.New()
//	defer e.Close()
//	if err := e.InitFromFile("model.mcf", nn.Config{Threads: 4, UseAcceleration: true}); err != nil {
//		return err
//	}
//	copy(nn.Input[float32](e, 0), features)
//	if err := e.Invoke(); err != nil {
//		return err
//	}
//	scores := nn.Output[float32](e, 0)
package nn

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/nnlite/internal/delegate/cpu"
	"github.com/samcharles93/nnlite/internal/runtime"
	"github.com/samcharles93/nnlite/pkg/logger"
	"github.com/samcharles93/nnlite/pkg/mcf"
	"github.com/samcharles93/nnlite/pkg/timer"
)

var (
	ErrEmptyModel       = errors.New("nn: empty model")
	ErrModelNotFound    = errors.New("nn: model file not found")
	ErrBuildInterpreter = errors.New("nn: failed to build interpreter")
	ErrAllocate         = errors.New("nn: failed to allocate tensors")
	ErrInvoke           = errors.New("nn: inference failed")
	ErrNotReady         = errors.New("nn: engine not initialised")
)

// Timer names recorded when a registry is configured.
const (
	TimerInit   = "init"
	TimerInvoke = "invoke"
)

type Config struct {
	// Threads is passed to both the interpreter and the delegate. Values
	// below 1 mean 1.
	Threads int
	// UseAcceleration attaches the CPU delegate when the host supports it.
	// Failing to build or attach it is logged and otherwise ignored.
	UseAcceleration bool
}

// delegateFactory builds an acceleration delegate for the given thread count.
type delegateFactory func(threads int) (runtime.Delegate, error)

func cpuDelegate(threads int) (runtime.Delegate, error) {
	d, err := cpu.New(cpu.Options{NumThreads: threads})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Engine owns one model and the interpreter running it. It is not safe for
// concurrent use; separate engines share nothing.
type Engine struct {
	id          string
	log         logger.Logger
	timers      *timer.Registry
	newDelegate delegateFactory

	model    []byte
	mapping  *mcf.Mapping
	interp   *runtime.Interpreter
	delegate runtime.Delegate
	ready    bool
}

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithTimers records init and invoke durations in r.
func WithTimers(r *timer.Registry) Option {
	return func(e *Engine) { e.timers = r }
}

func withDelegateFactory(f delegateFactory) Option {
	return func(e *Engine) { e.newDelegate = f }
}

// New returns an engine that holds no resources until Init.
func New(opts ...Option) *Engine {
	e := &Engine{
		id:          uuid.NewString(),
		log:         logger.Default(),
		newDelegate: cpuDelegate,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("engine", e.id)
	return e
}

// ID identifies the engine in log output.
func (e *Engine) ID() string { return e.id }

// Ready reports whether the last Init succeeded and Close has not been
// called since.
func (e *Engine) Ready() bool { return e.ready }

// Delegated reports whether the acceleration delegate runs part of the
// graph.
func (e *Engine) Delegated() bool {
	return e.ready && e.interp.DelegatedNodes() > 0
}

// Init loads a model from memory. The engine keeps its own copy of
// modelBytes, so the caller may reuse the buffer once Init returns.
// Any model held from an earlier Init is released first.
func (e *Engine) Init(modelBytes []byte, cfg Config) error {
	return e.init(bytes.Clone(modelBytes), nil, cfg)
}

// InitFromFile maps the model file read-only and initialises from it. The
// mapping is released by Close. A missing file yields ErrModelNotFound.
func (e *Engine) InitFromFile(path string, cfg Config) error {
	if cerr := e.Close(); cerr != nil {
		e.log.Warn("error releasing previous model", "error", cerr)
	}
	m, err := mcf.MapFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s: %w", ErrModelNotFound, path, err)
		} else {
			err = fmt.Errorf("nn: read model %s: %w", path, err)
		}
		e.log.Error("failed to load model", "path", path, "error", err)
		return err
	}
	e.log.Debug("loaded model file", "path", path, "bytes", len(m.Data), "mmap", m.Mapped())
	return e.init(m.Data, m, cfg)
}

func (e *Engine) init(data []byte, mapping *mcf.Mapping, cfg Config) (err error) {
	if cerr := e.Close(); cerr != nil {
		e.log.Warn("error releasing previous model", "error", cerr)
	}
	e.model, e.mapping = data, mapping
	defer func() {
		if err != nil {
			if cerr := e.Close(); cerr != nil {
				e.log.Warn("error releasing partially initialised model", "error", cerr)
			}
		}
	}()

	start := time.Now()
	if len(data) == 0 {
		e.log.Error("failed to build interpreter", "error", ErrEmptyModel)
		return ErrEmptyModel
	}

	threads := max(cfg.Threads, 1)
	model, err := runtime.NewModel(data)
	if err != nil {
		e.log.Error("failed to build model", "error", err)
		return fmt.Errorf("%w: %w", ErrBuildInterpreter, err)
	}
	interp, err := runtime.NewInterpreter(model, runtime.Options{NumThreads: threads})
	model.Close()
	if err != nil {
		e.log.Error("failed to build interpreter", "error", err)
		return fmt.Errorf("%w: %w", ErrBuildInterpreter, err)
	}
	e.interp = interp

	if cfg.UseAcceleration {
		e.attachDelegate(threads)
	}

	if err := e.interp.AllocateTensors(); err != nil {
		e.log.Error("failed to allocate tensors", "error", err)
		return fmt.Errorf("%w: %w", ErrAllocate, err)
	}

	e.ready = true
	if e.timers != nil {
		e.timers.Record(TimerInit, time.Since(start))
	}
	e.log.V(1).Info("model ready",
		"threads", threads,
		"inputs", e.interp.InputTensorCount(),
		"outputs", e.interp.OutputTensorCount(),
		"arena_bytes", e.interp.ArenaBytes(),
		"delegated_nodes", e.interp.DelegatedNodes(),
	)
	return nil
}

// attachDelegate never fails Init. A delegate that was built but could not
// be attached is kept so Close releases it after the interpreter.
func (e *Engine) attachDelegate(threads int) {
	d, err := e.newDelegate(threads)
	if err != nil {
		e.log.Warn("acceleration delegate unavailable, using builtin kernels", "error", err)
		return
	}
	e.delegate = d
	if err := e.interp.ModifyGraphWithDelegate(d); err != nil {
		e.log.Warn("failed to apply acceleration delegate, using builtin kernels", "delegate", d.Name(), "error", err)
		return
	}
	e.log.V(1).Info("acceleration delegate applied", "delegate", d.Name(), "nodes", e.interp.DelegatedNodes())
}

// Invoke runs one forward pass on the calling goroutine. A failed pass
// leaves the engine usable.
func (e *Engine) Invoke() error {
	if !e.ready {
		return ErrNotReady
	}
	start := time.Now()
	err := e.interp.Invoke()
	if e.timers != nil {
		e.timers.Record(TimerInvoke, time.Since(start))
	}
	if err != nil {
		e.log.Error("failed to invoke interpreter", "error", err)
		return fmt.Errorf("%w: %w", ErrInvoke, err)
	}
	return nil
}

// Close releases the interpreter, then the delegate, then the model bytes.
// It is safe to call at any time and more than once.
func (e *Engine) Close() error {
	e.ready = false
	var errs []error
	if e.interp != nil {
		errs = append(errs, e.interp.Close())
		e.interp = nil
	}
	if e.delegate != nil {
		errs = append(errs, e.delegate.Close())
		e.delegate = nil
	}
	if e.mapping != nil {
		errs = append(errs, e.mapping.Close())
		e.mapping = nil
	}
	e.model = nil
	return errors.Join(errs...)
}
