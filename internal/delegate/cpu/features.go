//go:build !nodelegate

package cpu

import (
	goruntime "runtime"

	syscpu "golang.org/x/sys/cpu"
)

// Features holds the host capabilities the delegate depends on, read once
// at init.
type Features struct {
	AVX2  bool
	FMA   bool
	ASIMD bool
}

var host Features

func init() {
	host = Features{
		AVX2:  syscpu.X86.HasAVX2,
		FMA:   syscpu.X86.HasFMA,
		ASIMD: syscpu.ARM64.HasASIMD,
	}
}

// unavailableReason returns why the delegate cannot run here, or "" if it can.
func unavailableReason() string {
	switch goruntime.GOARCH {
	case "amd64":
		if !host.AVX2 || !host.FMA {
			return "amd64 host lacks AVX2/FMA"
		}
		return ""
	case "arm64":
		if !host.ASIMD {
			return "arm64 host lacks ASIMD"
		}
		return ""
	}
	return "unsupported architecture " + goruntime.GOARCH
}
