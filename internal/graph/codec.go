package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/nnlite/pkg/mcf"
)

type graphJSON struct {
	Version int          `json:"version"`
	Name    string       `json:"name,omitempty"`
	Tensors []tensorJSON `json:"tensors"`
	Nodes   []nodeJSON   `json:"nodes"`
	Inputs  []int        `json:"inputs"`
	Outputs []int        `json:"outputs"`
}

type tensorJSON struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
	Const bool   `json:"const,omitempty"`
}

type nodeJSON struct {
	Op         OpCode     `json:"op"`
	Inputs     []int      `json:"inputs"`
	Outputs    []int      `json:"outputs"`
	Activation Activation `json:"activation,omitempty"`
	Beta       float32    `json:"beta,omitempty"`
}

// ParseDType maps the short dtype names used in the graph section ("f32",
// "i32", ...) to container dtypes.
func ParseDType(s string) (mcf.TensorDType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := mcf.DTypeF32; d <= mcf.DTypeU64; d++ {
		if d.String() == s {
			return d, nil
		}
	}
	return mcf.DTypeUnknown, fmt.Errorf("unknown dtype %q", s)
}

// Decode parses model bytes into a validated Graph. Constant tensor data in
// the result aliases data, which must outlive the graph.
func Decode(data []byte) (*Graph, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty model", mcf.ErrCorruptFile)
	}
	mf, err := mcf.Parse(data)
	if err != nil {
		return nil, err
	}

	raw := mf.SectionData(mf.Section(mcf.SectionGraph))
	if len(raw) == 0 {
		return nil, ErrNoGraph
	}
	var gj graphJSON
	if err := json.Unmarshal(raw, &gj); err != nil {
		return nil, fmt.Errorf("%w: decode graph section: %v", ErrInvalidGraph, err)
	}
	if gj.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported graph version %d", ErrInvalidGraph, gj.Version)
	}

	g := &Graph{
		Name:    gj.Name,
		Tensors: make([]Tensor, len(gj.Tensors)),
		Nodes:   make([]Node, len(gj.Nodes)),
		Inputs:  gj.Inputs,
		Outputs: gj.Outputs,
	}
	for i, tj := range gj.Tensors {
		dt, err := ParseDType(tj.DType)
		if err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrInvalidGraph, tj.Name, err)
		}
		g.Tensors[i] = Tensor{Name: tj.Name, DType: dt, Shape: tj.Shape, Const: tj.Const}
	}
	for i, nj := range gj.Nodes {
		g.Nodes[i] = Node{
			Op:         nj.Op,
			Inputs:     nj.Inputs,
			Outputs:    nj.Outputs,
			Activation: nj.Activation,
			Beta:       nj.Beta,
		}
	}

	if err := bindConstants(mf, g); err != nil {
		return nil, err
	}

	if meta := mf.SectionData(mf.Section(mcf.SectionMetadata)); len(meta) > 0 {
		if err := json.Unmarshal(meta, &g.Metadata); err != nil {
			return nil, fmt.Errorf("%w: decode metadata section: %v", ErrInvalidGraph, err)
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func bindConstants(mf *mcf.File, g *Graph) error {
	var index *mcf.TensorIndex
	for i := range g.Tensors {
		t := &g.Tensors[i]
		if !t.Const {
			continue
		}
		if index == nil {
			raw := mf.SectionData(mf.Section(mcf.SectionTensorIndex))
			if len(raw) == 0 {
				return fmt.Errorf("%w: constants present but no tensor index", ErrInvalidGraph)
			}
			var err error
			if index, err = mcf.ParseTensorIndexSection(raw); err != nil {
				return err
			}
		}

		idx, ok := index.Find(t.Name)
		if !ok {
			return fmt.Errorf("%w: %q", mcf.ErrTensorNotFound, t.Name)
		}
		entry, err := index.Entry(idx)
		if err != nil {
			return err
		}
		if entry.DType != t.DType {
			return fmt.Errorf("%w: constant %q dtype %s, index has %s", ErrInvalidGraph, t.Name, t.DType, entry.DType)
		}
		shape, err := index.Shape(idx)
		if err != nil {
			return err
		}
		if !shapeEqual(shape, t.Shape) {
			return fmt.Errorf("%w: constant %q shape %v, index has %v", ErrInvalidGraph, t.Name, t.Shape, shape)
		}
		if t.Data, err = index.TensorData(mf, idx); err != nil {
			return err
		}
	}
	return nil
}

func shapeEqual(a []uint64, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if b[i] < 0 || a[i] != uint64(b[i]) {
			return false
		}
	}
	return true
}

// Encode serializes g into a self-contained MCF container.
func Encode(g *Graph) ([]byte, error) {
	if g == nil {
		return nil, errors.New("graph: nil graph")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	gj := graphJSON{
		Version: FormatVersion,
		Name:    g.Name,
		Tensors: make([]tensorJSON, len(g.Tensors)),
		Nodes:   make([]nodeJSON, len(g.Nodes)),
		Inputs:  g.Inputs,
		Outputs: g.Outputs,
	}
	for i, t := range g.Tensors {
		gj.Tensors[i] = tensorJSON{Name: t.Name, DType: t.DType.String(), Shape: t.Shape, Const: t.Const}
	}
	for i, n := range g.Nodes {
		gj.Nodes[i] = nodeJSON{Op: n.Op, Inputs: n.Inputs, Outputs: n.Outputs, Activation: n.Activation, Beta: n.Beta}
	}
	graphBytes, err := json.Marshal(gj)
	if err != nil {
		return nil, fmt.Errorf("encode graph section: %w", err)
	}

	var buf mcf.Buffer
	w, err := mcf.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if err := w.WriteSection(mcf.SectionGraph, FormatVersion, graphBytes); err != nil {
		return nil, err
	}
	if len(g.Metadata) > 0 {
		meta, err := json.Marshal(g.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata section: %w", err)
		}
		if err := w.WriteSection(mcf.SectionMetadata, 1, meta); err != nil {
			return nil, err
		}
	}
	if err := writeConstants(w, g); err != nil {
		return nil, err
	}
	if err := w.Finalise(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeConstants(w *mcf.Writer, g *Graph) error {
	var records []mcf.TensorIndexRecord
	sw, err := w.BeginSection(mcf.SectionTensorData, 1)
	if err != nil {
		return err
	}
	for _, t := range g.Tensors {
		if !t.Const {
			continue
		}
		if err := sw.Align(mcf.TensorDataAlign); err != nil {
			return err
		}
		off, err := sw.CurrentAbsOffset()
		if err != nil {
			return err
		}
		if _, err := sw.Write(t.Data); err != nil {
			return err
		}
		shape := make([]uint64, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = uint64(d)
		}
		records = append(records, mcf.TensorIndexRecord{
			Name:     t.Name,
			DType:    t.DType,
			Shape:    shape,
			DataOff:  off,
			DataSize: uint64(len(t.Data)),
		})
	}
	if err := sw.End(); err != nil {
		return err
	}
	if err := w.AddFlags(mcf.FlagTensorDataAligned64); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	idx, err := mcf.EncodeTensorIndexSection(records)
	if err != nil {
		return err
	}
	return w.WriteSection(mcf.SectionTensorIndex, mcf.TensorIndexVersion, idx)
}
