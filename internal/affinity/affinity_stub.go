//go:build !linux

package affinity

func currentCore() (int, error) { return 0, ErrUnsupported }

func pinPlatform(int) error { return ErrUnsupported }

// Allowed is not supported on this platform.
func Allowed() ([]int, error) { return nil, ErrUnsupported }
