//go:build !linux

package hook

// Defaults kept so flag definitions compile everywhere.
const (
	DefaultGPIOChip = "gpiochip0"
	DefaultGPIOLine = 17
)

// EvdevSource is not available on non-Linux platforms.
type EvdevSource struct{}

// NewEvdevSource returns an error on non-Linux platforms.
func NewEvdevSource(pattern string) (*EvdevSource, error) {
	return nil, ErrUnsupported
}

func (s *EvdevSource) Start(Handler) error { return ErrUnsupported }
func (s *EvdevSource) Stop() error { return nil }
func (s *EvdevSource) Disabled() <-chan error { return nil }
func (s *EvdevSource) Name() string { return "evdev" }

// GPIOSource is not available on non-Linux platforms.
type GPIOSource struct{}

// NewGPIOSource returns an error on non-Linux platforms.
func NewGPIOSource(chip string, offset int) (*GPIOSource, error) {
	return nil, ErrUnsupported
}

func (s *GPIOSource) Start(Handler) error { return ErrUnsupported }
func (s *GPIOSource) Stop() error { return nil }
func (s *GPIOSource) Disabled() <-chan error { return nil }
func (s *GPIOSource) Name() string { return "gpio" }
