//go:build nodelegate

package cpu

type Features struct {
	AVX2  bool
	FMA   bool
	ASIMD bool
}

var host Features

func unavailableReason() string {
	return "cpu delegate is not available in this build"
}
