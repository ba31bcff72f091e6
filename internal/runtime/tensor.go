package runtime

import (
	"fmt"
	"math"
	"slices"
	"unsafe"

	"github.com/samcharles93/nnlite/pkg/mcf"
)

// Tensor is an interpreter-owned buffer. Data aliases either the model bytes
// (constants) or the interpreter arena, and is nil until tensors are
// allocated.
type Tensor struct {
	Name  string
	DType mcf.TensorDType
	Shape []int
	Data  []byte

	declared []int
	isConst  bool
}

func (t *Tensor) Const() bool { return t.isConst }

// Elements returns the element count, or -1 while any dimension is
// unresolved or when the count does not fit in an int.
func (t *Tensor) Elements() int {
	n := 1
	for _, d := range t.Shape {
		if d < 0 || (d > 0 && n > math.MaxInt/d) {
			return -1
		}
		n *= d
	}
	return n
}

// ByteSize returns the payload size, or -1 when Elements does or when the
// size does not fit in an int.
func (t *Tensor) ByteSize() int {
	n, size := t.Elements(), t.DType.Size()
	if n < 0 || (size > 0 && n > math.MaxInt/size) {
		return -1
	}
	return n * size
}

// resolved reports whether every dimension is known.
func (t *Tensor) resolved() bool {
	return !slices.ContainsFunc(t.Shape, func(d int) bool { return d < 0 })
}

// Float32s reinterprets Data as float32 values. It returns nil for other
// dtypes or unallocated tensors.
func (t *Tensor) Float32s() []float32 {
	if t.DType != mcf.DTypeF32 || len(t.Data) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4)
}

func (t *Tensor) Int32s() []int32 {
	if t.DType != mcf.DTypeI32 || len(t.Data) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4)
}

// Resolve sets the tensor shape to an inferred shape. Dimensions the model
// declared must agree with it; declared -1 dimensions accept any size.
func (t *Tensor) Resolve(shape []int) error {
	if len(shape) != len(t.declared) {
		return fmt.Errorf("%w: tensor %q declared %v, inferred %v", ErrShape, t.Name, t.declared, shape)
	}
	for i, d := range t.declared {
		if d >= 0 && d != shape[i] {
			return fmt.Errorf("%w: tensor %q declared %v, inferred %v", ErrShape, t.Name, t.declared, shape)
		}
	}
	t.Shape = slices.Clone(shape)
	return nil
}

func (t *Tensor) reset() {
	if t.isConst {
		return
	}
	t.Shape = slices.Clone(t.declared)
	t.Data = nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s %s%v", t.Name, t.DType, t.Shape)
}

func sameShape(a, b []int) bool {
	return slices.Equal(a, b)
}
