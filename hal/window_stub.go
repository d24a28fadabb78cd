//go:build headless

package hal

// RunWindow is unavailable in headless builds.
func RunWindow(title string, dev Devices, step func() error) error {
	return ErrNotImplemented
}

// StartAudio is unavailable in headless builds.
func StartAudio(dev Devices) error {
	return ErrNotImplemented
}
