//go:build !windows

package imaging

// NewFactory returns the imaging factory for this platform.
func NewFactory() (Factory, error) {
	return NewMemoryFactory(), nil
}
