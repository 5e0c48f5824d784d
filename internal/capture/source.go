package capture

import "image"

// Format is the negotiated pixel format a VideoSource ended up with.
type Format string

const (
	FormatYUYV    Format = "YUYV"
	FormatMJPEG   Format = "MJPG"
	FormatDefault Format = "default"
)

// VideoSource is the minimal device contract the capture grabber loop
// drives; v4l2Source implements it over a real /dev/videoN node, tests
// substitute a synthetic frame feed. This mirrors internal/bridge's
// eventSource split between the real evdev device and its test double.
type VideoSource interface {
	// Open negotiates a working pixel format (YUYV, then MJPEG, then
	// the device default) and starts streaming.
	Open() (Format, error)
	// ReadFrame blocks for the next frame and decodes it to an image
	// (RGBA for YUYV data; MJPEG frames keep the JPEG decoder's type).
	ReadFrame() (image.Image, error)
	Close() error
}
