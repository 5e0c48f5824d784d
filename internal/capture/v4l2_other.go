//go:build !linux

package capture

import "fmt"

// OpenV4L2 is unavailable outside Linux; the V4L2 ioctl path in
// v4l2_linux.go has no portable equivalent, matching hid.NewGadgetWriter's
// platform split.
func OpenV4L2(path string) (VideoSource, error) {
	return nil, fmt.Errorf("capture requires linux")
}
