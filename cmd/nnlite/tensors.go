package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/samcharles93/nnlite/pkg/mcf"
	"github.com/samcharles93/nnlite/pkg/nn"
)

// fillInputs writes the i-th --input-file (raw little-endian bytes) or the
// i-th --input (comma separated values) into input tensor i. A file takes
// precedence when both are given; tensors with neither are zero-filled.
func fillInputs(e *nn.Engine, values, files []string) error {
	infos := e.Inputs()
	if len(values) > len(infos) || len(files) > len(infos) {
		return fmt.Errorf("model has %d inputs, got %d --input and %d --input-file", len(infos), len(values), len(files))
	}
	for i, info := range infos {
		dst := e.InputTensor(i)
		switch {
		case i < len(files) && files[i] != "":
			data, err := os.ReadFile(files[i])
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			if len(data) != len(dst) {
				return fmt.Errorf("input %d (%s): file has %d bytes, tensor needs %d", i, info.Name, len(data), len(dst))
			}
			copy(dst, data)
		case i < len(values) && values[i] != "":
			if err := parseInto(e, i, info, values[i]); err != nil {
				return fmt.Errorf("input %d (%s): %w", i, info.Name, err)
			}
		default:
			clear(dst)
		}
	}
	return nil
}

func parseInto(e *nn.Engine, i int, info nn.TensorInfo, csv string) error {
	fields := strings.Split(csv, ",")
	n := info.Bytes / max(info.DType.Size(), 1)
	if len(fields) != n {
		return fmt.Errorf("got %d values, tensor %v holds %d", len(fields), info.Shape, n)
	}
	switch info.DType {
	case mcf.DTypeF32:
		dst := nn.Input[float32](e, i)
		for j, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
			if err != nil {
				return err
			}
			dst[j] = float32(v)
		}
	case mcf.DTypeI32:
		dst := nn.Input[int32](e, i)
		for j, f := range fields {
			v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 32)
			if err != nil {
				return err
			}
			dst[j] = int32(v)
		}
	case mcf.DTypeU8:
		dst := nn.Input[uint8](e, i)
		for j, f := range fields {
			v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
			if err != nil {
				return err
			}
			dst[j] = uint8(v)
		}
	default:
		return fmt.Errorf("text values not supported for %s; use --input-file", info.DType)
	}
	return nil
}

// formatOutput renders output tensor i as comma separated values.
func formatOutput(e *nn.Engine, i int, info nn.TensorInfo) string {
	var b strings.Builder
	switch info.DType {
	case mcf.DTypeF32:
		for j, v := range nn.Output[float32](e, i) {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
	case mcf.DTypeI32:
		for j, v := range nn.Output[int32](e, i) {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatInt(int64(v), 10))
		}
	case mcf.DTypeU8:
		for j, v := range nn.Output[uint8](e, i) {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatUint(uint64(v), 10))
		}
	default:
		fmt.Fprintf(&b, "<%d bytes of %s>", info.Bytes, info.DType)
	}
	return b.String()
}
