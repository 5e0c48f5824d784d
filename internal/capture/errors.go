package capture

import "fmt"

func errNotAccessible(path string) error {
	return fmt.Errorf("cannot access device: %s", path)
}

func errNoDevice() error {
	return fmt.Errorf("no capture device found")
}
