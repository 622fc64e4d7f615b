// Package affinity parses core masks and pins goroutines to CPUs.
//
// Platform-specific implementations live in files guarded by build tags.
package affinity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors
var (
	ErrUnsupported = errors.New("affinity: not supported on this platform")
	ErrInvalidMask = errors.New("affinity: invalid core mask")
)

// MaxCores is the number of cores a mask can address.
const MaxCores = 64

// ParseCoreMask converts a core list such as "{1,2,3}" into a bitmask with
// bit n set for core n. Braces are optional and whitespace is ignored.
func ParseCoreMask(s string) (uint64, error) {
	body := strings.TrimSpace(s)
	body = strings.TrimPrefix(body, "{")
	body = strings.TrimSuffix(body, "}")

	var mask uint64
	for _, field := range strings.Split(body, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		core, err := strconv.Atoi(field)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidMask, s, err)
		}
		if core < 0 || core >= MaxCores {
			return 0, fmt.Errorf("%w: %q: core %d out of range", ErrInvalidMask, s, core)
		}
		mask |= 1 << uint(core)
	}

	return mask, nil
}

// FormatMask renders mask as 64 binary digits, most significant first.
func FormatMask(mask uint64) string {
	return fmt.Sprintf("%064b", mask)
}

// Cores returns the core ids set in mask in ascending order.
func Cores(mask uint64) []int {
	var cores []int
	for i := 0; i < MaxCores; i++ {
		if mask&(1<<uint(i)) != 0 {
			cores = append(cores, i)
		}
	}
	return cores
}

// CurrentCoreMask returns the mask with only the calling thread's current
// core set, and that core.
func CurrentCoreMask() (uint64, int, error) {
	core, err := currentCore()
	if err != nil {
		return 0, 0, err
	}
	if core >= MaxCores {
		return 0, core, fmt.Errorf("%w: core %d out of range", ErrInvalidMask, core)
	}
	return 1 << uint(core), core, nil
}

// Pin locks the calling goroutine to its OS thread and restricts that
// thread to core.
func Pin(core int) error {
	return pinPlatform(core)
}
