package core

import (
	"errors"
	"fmt"
)

// Creation errors. Returned by resource and pipeline creation; recoverable by
// retrying with different parameters.
var (
	ErrOutOfMemory       = errors.New("out of memory")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrUnsupportedUsage  = errors.New("unsupported usage")
)

// Allocation errors.
var (
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	ErrOutOfHostMemory   = errors.New("out of host memory")
	ErrTooManyObjects    = errors.New("too many objects")
)

// Bind errors. Returned when attaching memory to a resource.
var (
	ErrWrongMemoryType = errors.New("wrong memory type")
	ErrOutOfBounds     = errors.New("out of bounds")
)

// ErrInvalidUsage marks a programming error: an illegal command buffer or
// render pass state transition, or a register assignment collision. The
// offending object must be reset and re-recorded; the violation is never
// silently corrected.
var ErrInvalidUsage = errors.New("invalid usage")

// Wait errors. Timeout is recoverable (re-wait or treat as not-yet);
// DeviceLost is fatal for the whole Device.
var (
	ErrTimeout    = errors.New("wait timed out")
	ErrDeviceLost = errors.New("device lost")
)

// Present errors.
var (
	ErrOutOfDate   = errors.New("swapchain out of date")
	ErrSurfaceLost = errors.New("surface lost")
)

// InvalidUsagef wraps ErrInvalidUsage with a description of the violated
// rule so callers can both match the class and read the cause.
func InvalidUsagef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidUsage, fmt.Sprintf(format, args...))
}
