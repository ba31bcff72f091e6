package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/nnlite/internal/graph"
	"github.com/samcharles93/nnlite/pkg/mcf"
)

func writeModel(t *testing.T) string {
	t.Helper()
	b := graph.NewBuilder("tiny")
	x := b.Input("x", mcf.DTypeF32, 1, 3)
	w := b.ConstF32("w", []int{2, 3}, []float32{1, 0, 0, 0, 1, 0})
	y := b.Tensor("y", mcf.DTypeF32, 1, 2)
	b.Node(graph.OpFullyConnected, []int{x, w, graph.NoTensor}, []int{y}).Activation = graph.ActRelu
	b.Output(y)
	b.SetMetadata("author", "fixtures")
	data, err := b.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tiny.mcf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestInspectModel(t *testing.T) {
	path := writeModel(t)
	r, err := inspectModel(path)
	if err != nil {
		t.Fatalf("inspectModel: %v", err)
	}
	if r.Name != "tiny" || r.Version != "1.0" {
		t.Fatalf("header: %+v", r)
	}
	if len(r.Tensors) != 3 || !r.Tensors[1].Const || r.Tensors[1].Bytes != 24 {
		t.Fatalf("tensors: %+v", r.Tensors)
	}
	if len(r.Nodes) != 1 || r.Nodes[0].Op != "FULLY_CONNECTED" || r.Nodes[0].Activation != "RELU" {
		t.Fatalf("nodes: %+v", r.Nodes)
	}
	if !slices.Equal(r.Nodes[0].Inputs, []string{"x", "w", "-"}) {
		t.Fatalf("node inputs: %q", r.Nodes[0].Inputs)
	}
	if !slices.Equal(r.Inputs, []string{"x"}) || !slices.Equal(r.Outputs, []string{"y"}) {
		t.Fatalf("signature: %q -> %q", r.Inputs, r.Outputs)
	}

	var buf bytes.Buffer
	printReport(&buf, r)
	for _, want := range []string{"FULLY_CONNECTED+RELU", "(x, w, -) -> (y)", "author", "graph"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("report missing %q:\n%s", want, buf.String())
		}
	}

	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back modelReport
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Name != r.Name || len(back.Nodes) != 1 {
		t.Fatalf("json report: %s", raw)
	}
}

func TestInspectModelErrors(t *testing.T) {
	if _, err := inspectModel(filepath.Join(t.TempDir(), "missing.mcf")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "junk.mcf")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xff}, 128), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := inspectModel(path); err == nil {
		t.Fatalf("expected error for junk file")
	}
}
