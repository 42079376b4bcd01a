package pointcloud

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DeviceType is the kind of compute device a point cloud is placed on.
type DeviceType int

// The known device kinds.
const (
	CPU DeviceType = iota
	CUDA
	SYCL
)

func (t DeviceType) String() string {
	switch t {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case SYCL:
		return "SYCL"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(t))
	}
}

// Device identifies where a cloud's attributes live. It is a placement tag only: every operation in
// this module runs on the host, but clouds on different devices are never mixed.
type Device struct {
	Type DeviceType
	ID   int
}

// DefaultDevice is the host CPU.
var DefaultDevice = Device{Type: CPU, ID: 0}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Type, d.ID)
}

// ParseDevice parses a device string such as "CPU:0" or "CUDA:1".
func ParseDevice(s string) (Device, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Device{}, errors.Errorf("invalid device %q, expected TYPE:ID", s)
	}
	n, err := strconv.Atoi(id)
	if err != nil || n < 0 {
		return Device{}, errors.Errorf("invalid device id in %q", s)
	}
	switch strings.ToUpper(kind) {
	case "CPU":
		return Device{Type: CPU, ID: n}, nil
	case "CUDA":
		return Device{Type: CUDA, ID: n}, nil
	case "SYCL":
		return Device{Type: SYCL, ID: n}, nil
	default:
		return Device{}, errors.Errorf("unknown device type %q", kind)
	}
}
