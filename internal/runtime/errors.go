package runtime

import "errors"

var (
	ErrClosed              = errors.New("runtime: interpreter closed")
	ErrNotAllocated        = errors.New("runtime: tensors not allocated")
	ErrDelegateUnsupported = errors.New("runtime: delegate claimed no nodes")
	ErrShape               = errors.New("runtime: shape mismatch")
	ErrDynamicShape        = errors.New("runtime: tensor has unresolved dimensions")
	ErrUnsupportedType     = errors.New("runtime: unsupported tensor type")
	ErrArenaLimit          = errors.New("runtime: arena exceeds limit")
	ErrIndexOutOfRange     = errors.New("runtime: index out of range")
)
