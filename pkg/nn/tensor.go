package nn

import (
	"fmt"
	"unsafe"

	"github.com/samcharles93/nnlite/internal/runtime"
	"github.com/samcharles93/nnlite/pkg/mcf"
)

// TensorInfo describes a graph input or output.
type TensorInfo struct {
	Name  string
	DType mcf.TensorDType
	Shape []int
	Bytes int
}

// Element is a type a tensor view can be reinterpreted as.
type Element interface {
	~float32 | ~float64 | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64
}

func (e *Engine) mustBeReady(op string) {
	if !e.ready {
		panic(fmt.Sprintf("nn: %s called on an engine without a successful Init", op))
	}
}

// InputTensor returns a writable view of the i-th input. The view stays
// valid until Close or the next Init. It is nil if i is out of range.
// Calling it before a successful Init panics.
func (e *Engine) InputTensor(i int) []byte {
	e.mustBeReady("InputTensor")
	return view(e.interp.InputTensor(i))
}

// OutputTensor returns a view of the i-th output whose length is the
// tensor's byte size. Invoke overwrites its contents in place; callers must
// not write to it. It is nil if i is out of range. Calling it before a
// successful Init panics.
func (e *Engine) OutputTensor(i int) []byte {
	e.mustBeReady("OutputTensor")
	return view(e.interp.OutputTensor(i))
}

func view(t *runtime.Tensor) []byte {
	if t == nil {
		return nil
	}
	return t.Data
}

// Input reinterprets the i-th input view as a slice of T.
func Input[T Element](e *Engine, i int) []T {
	e.mustBeReady("Input")
	return as[T](e.interp.InputTensor(i))
}

// Output reinterprets the i-th output view as a slice of T.
func Output[T Element](e *Engine, i int) []T {
	e.mustBeReady("Output")
	return as[T](e.interp.OutputTensor(i))
}

func as[T Element](t *runtime.Tensor) []T {
	if t == nil || len(t.Data) == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size != t.DType.Size() {
		panic(fmt.Sprintf("nn: tensor %q is %s, cannot view as %T", t.Name, t.DType, zero))
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&t.Data[0])), len(t.Data)/size)
}

// Inputs describes every graph input in order.
func (e *Engine) Inputs() []TensorInfo {
	e.mustBeReady("Inputs")
	out := make([]TensorInfo, e.interp.InputTensorCount())
	for i := range out {
		out[i] = info(e.interp.InputTensor(i))
	}
	return out
}

func (e *Engine) Outputs() []TensorInfo {
	e.mustBeReady("Outputs")
	out := make([]TensorInfo, e.interp.OutputTensorCount())
	for i := range out {
		out[i] = info(e.interp.OutputTensor(i))
	}
	return out
}

func info(t *runtime.Tensor) TensorInfo {
	return TensorInfo{
		Name:  t.Name,
		DType: t.DType,
		Shape: append([]int(nil), t.Shape...),
		Bytes: t.ByteSize(),
	}
}
