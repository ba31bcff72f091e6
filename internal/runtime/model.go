// Package runtime executes decoded graphs. A Model holds the parsed graph,
// an Interpreter owns the tensor arena and kernels for one execution context,
// and a Delegate can take over nodes it has faster kernels for.
package runtime

import (
	"math"

	"github.com/samcharles93/nnlite/internal/graph"
)

// Model is a decoded graph whose constant tensors alias the bytes it was
// built from. Those bytes must stay alive and unmodified for as long as the
// Model or any Interpreter built from it is in use.
type Model struct {
	g *graph.Graph
}

func NewModel(data []byte) (*Model, error) {
	g, err := graph.Decode(data)
	if err != nil {
		return nil, err
	}
	return &Model{g: g}, nil
}

// Graph returns the decoded graph, or nil after Close.
func (m *Model) Graph() *graph.Graph {
	if m == nil {
		return nil
	}
	return m.g
}

// Close drops the graph. Interpreters already built from the model keep
// working.
func (m *Model) Close() {
	if m != nil {
		m.g = nil
	}
}

// DefaultMaxArenaBytes is the arena cap used when Options.MaxArenaBytes is
// zero.
const DefaultMaxArenaBytes = min(1<<32, math.MaxInt/2)

type Options struct {
	// NumThreads bounds kernel parallelism. Values below 2 run every kernel
	// on the calling goroutine.
	NumThreads int
	// MaxArenaBytes caps the planned activation arena. Zero means
	// DefaultMaxArenaBytes; a negative value disables the cap.
	MaxArenaBytes int
}

func (o Options) arenaLimit() int {
	switch {
	case o.MaxArenaBytes == 0:
		return DefaultMaxArenaBytes
	case o.MaxArenaBytes < 0:
		return math.MaxInt
	default:
		return o.MaxArenaBytes
	}
}
