package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nnlite/internal/graph"
	"github.com/samcharles93/nnlite/internal/runtime"
	"github.com/samcharles93/nnlite/pkg/mcf"
)

type modelReport struct {
	Path     string            `json:"path"`
	Name     string            `json:"name"`
	Version  string            `json:"format_version"`
	Sections []sectionReport   `json:"sections"`
	Tensors  []tensorReport    `json:"tensors"`
	Nodes    []nodeReport      `json:"nodes"`
	Inputs   []string          `json:"inputs"`
	Outputs  []string          `json:"outputs"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type sectionReport struct {
	Type    string `json:"type"`
	Version uint32 `json:"version"`
	Offset  uint64 `json:"offset"`
	Size    uint64 `json:"size"`
}

type tensorReport struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
	Bytes int    `json:"bytes"`
	Const bool   `json:"const,omitempty"`
}

type nodeReport struct {
	Index      int      `json:"index"`
	Op         string   `json:"op"`
	Activation string   `json:"activation,omitempty"`
	Inputs     []string `json:"inputs"`
	Outputs    []string `json:"outputs"`
}

func inspectCmd() *cli.Command {
	var asJSON bool

	flags := append(commonModelFlags(),
		&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Describe the graph stored in a model file",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyEngineConfig(cmd, LoadConfig())
			path, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
			}

			report, err := inspectModel(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(os.Stdout, report)
			return nil
		},
	}
}

func inspectModel(path string) (*modelReport, error) {
	mf, err := mcf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = mf.Close() }()

	m, err := runtime.NewModel(mf.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer m.Close()
	g := m.Graph()

	r := &modelReport{
		Path:     path,
		Name:     g.Name,
		Version:  fmt.Sprintf("%d.%d", mf.Header.Major, mf.Header.Minor),
		Metadata: g.Metadata,
	}
	for _, s := range mf.Sections {
		r.Sections = append(r.Sections, sectionReport{
			Type:    mcf.SectionType(s.Type).String(),
			Version: s.Version,
			Offset:  s.Offset,
			Size:    s.Size,
		})
	}
	for i := range g.Tensors {
		t := &g.Tensors[i]
		r.Tensors = append(r.Tensors, tensorReport{
			Index: i,
			Name:  t.Name,
			DType: t.DType.String(),
			Shape: slices.Clone(t.Shape),
			Bytes: t.ByteSize(),
			Const: t.Const,
		})
	}
	for i, n := range g.Nodes {
		r.Nodes = append(r.Nodes, nodeReport{
			Index:      i,
			Op:         string(n.Op),
			Activation: string(n.Activation),
			Inputs:     tensorNames(g, n.Inputs),
			Outputs:    tensorNames(g, n.Outputs),
		})
	}
	r.Inputs = tensorNames(g, g.Inputs)
	r.Outputs = tensorNames(g, g.Outputs)
	return r, nil
}

func tensorNames(g *graph.Graph, ids []int) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		if id == graph.NoTensor {
			names[i] = "-"
			continue
		}
		names[i] = g.Tensors[id].Name
	}
	return names
}

func printReport(w io.Writer, r *modelReport) {
	section(w, "Model")
	_, _ = fmt.Fprintf(w, "%-10s %s\n", "path", r.Path)
	_, _ = fmt.Fprintf(w, "%-10s %s\n", "name", r.Name)
	_, _ = fmt.Fprintf(w, "%-10s %s\n", "format", r.Version)
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%-10s %s\n", k, r.Metadata[k])
	}

	section(w, "Sections")
	for _, s := range r.Sections {
		_, _ = fmt.Fprintf(w, "%-12s v%-2d off=%-10d size=%d\n", s.Type, s.Version, s.Offset, s.Size)
	}

	section(w, "Tensors")
	for _, t := range r.Tensors {
		kind := ""
		if t.Const {
			kind = "const"
		}
		_, _ = fmt.Fprintf(w, "%4d %-24s %-4s %-16s %10d %s\n", t.Index, t.Name, t.DType, fmt.Sprint(t.Shape), t.Bytes, kind)
	}

	section(w, "Nodes")
	for _, n := range r.Nodes {
		op := n.Op
		if n.Activation != "" {
			op += "+" + n.Activation
		}
		_, _ = fmt.Fprintf(w, "%4d %-24s (%s) -> (%s)\n", n.Index, op, strings.Join(n.Inputs, ", "), strings.Join(n.Outputs, ", "))
	}

	section(w, "Signature")
	_, _ = fmt.Fprintf(w, "inputs:  %s\n", strings.Join(r.Inputs, ", "))
	_, _ = fmt.Fprintf(w, "outputs: %s\n", strings.Join(r.Outputs, ", "))
}

func section(w io.Writer, title string) {
	line := strings.Repeat("-", len(title)+8)
	_, _ = fmt.Fprintf(w, "\n%s\n--- %s ---\n%s\n", line, title, line)
}
