//go:build linux

package capture

import (
	"encoding/binary"
	"fmt"
	"image"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 ioctl request codes and buffer-type/memory constants, taken
// from <linux/videodev2.h>. Hand-encoded here, since the pack carries
// no V4L2 binding.
const (
	vidiocQueryCap  = 0x80685600
	vidiocSFmt      = 0xc0cc5605
	vidiocReqBufs   = 0xc0145608
	vidiocQueryBuf  = 0xc0585609
	vidiocQBuf      = 0xc058560f
	vidiocDQBuf     = 0xc0585611
	vidiocStreamOn  = 0x40045612
	vidiocStreamOff = 0x40045613

	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMmap          = 1
	v4l2FieldAny            = 0

	pixFmtYUYV = 0x56595559 // 'YUYV'
	pixFmtMJPG = 0x47504a4d // 'MJPG'

	captureWidth  = 1280
	captureHeight = 720
	bufferCount   = 4
)

// v4l2Source drives a /dev/videoN node via raw V4L2 ioctls and mmap'd
// buffers, negotiating YUYV -> MJPEG -> device-default in that order
// (msmacro's _init_capture open_attempts loop).
type v4l2Source struct {
	f       *os.File
	format  Format
	buffers [][]byte
}

// NewV4L2Source opens path for V4L2 capture; callers must call Open
// before ReadFrame.
func NewV4L2Source(path string) (*v4l2Source, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &v4l2Source{f: f}, nil
}

// OpenV4L2 adapts NewV4L2Source to the capture.OpenFunc signature for
// production wiring: New(capture.OpenV4L2, buffer, opts).
func OpenV4L2(path string) (VideoSource, error) {
	return NewV4L2Source(path)
}

func (s *v4l2Source) Open() (Format, error) {
	if err := ioctl(s.f, vidiocQueryCap, make([]byte, 104)); err != nil {
		s.f.Close()
		return "", fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}

	for _, attempt := range []struct {
		fourcc uint32
		label  Format
	}{
		{pixFmtYUYV, FormatYUYV},
		{pixFmtMJPG, FormatMJPEG},
		{0, FormatDefault},
	} {
		if err := s.setFormat(attempt.fourcc); err != nil {
			continue
		}
		if err := s.setupBuffers(); err != nil {
			continue
		}
		if err := s.streamOn(); err != nil {
			s.releaseBuffers()
			continue
		}
		s.format = attempt.label
		return attempt.label, nil
	}
	s.f.Close()
	return "", fmt.Errorf("no supported capture format on %s", s.f.Name())
}

// setFormat builds a v4l2_format struct with the v4l2_pix_format union
// member populated and issues VIDIOC_S_FMT. fourcc of 0 leaves the
// pixel format field unset so the driver keeps its own default.
func (s *v4l2Source) setFormat(fourcc uint32) error {
	buf := make([]byte, 204)
	binary.LittleEndian.PutUint32(buf[0:4], v4l2BufTypeVideoCapture)
	binary.LittleEndian.PutUint32(buf[4:8], captureWidth)   // pix.width
	binary.LittleEndian.PutUint32(buf[8:12], captureHeight) // pix.height
	if fourcc != 0 {
		binary.LittleEndian.PutUint32(buf[12:16], fourcc) // pix.pixelformat
	}
	binary.LittleEndian.PutUint32(buf[16:20], v4l2FieldAny) // pix.field
	return ioctl(s.f, vidiocSFmt, buf)
}

func (s *v4l2Source) setupBuffers() error {
	req := make([]byte, 20)
	binary.LittleEndian.PutUint32(req[0:4], bufferCount)
	binary.LittleEndian.PutUint32(req[4:8], v4l2BufTypeVideoCapture)
	binary.LittleEndian.PutUint32(req[8:12], v4l2MemoryMmap)
	if err := ioctl(s.f, vidiocReqBufs, req); err != nil {
		return fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	count := binary.LittleEndian.Uint32(req[0:4])

	s.buffers = make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		qbuf := make([]byte, 88)
		binary.LittleEndian.PutUint32(qbuf[0:4], i)
		binary.LittleEndian.PutUint32(qbuf[4:8], v4l2BufTypeVideoCapture)
		binary.LittleEndian.PutUint32(qbuf[56:60], v4l2MemoryMmap)
		if err := ioctl(s.f, vidiocQueryBuf, qbuf); err != nil {
			return fmt.Errorf("VIDIOC_QUERYBUF: %w", err)
		}
		length := binary.LittleEndian.Uint32(qbuf[68:72])
		offset := binary.LittleEndian.Uint32(qbuf[60:64])

		mem, err := unix.Mmap(int(s.f.Fd()), int64(offset), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap buffer %d: %w", i, err)
		}
		s.buffers = append(s.buffers, mem)

		if err := ioctl(s.f, vidiocQBuf, qbuf); err != nil {
			return fmt.Errorf("VIDIOC_QBUF %d: %w", i, err)
		}
	}
	return nil
}

func (s *v4l2Source) streamOn() error {
	typ := make([]byte, 4)
	binary.LittleEndian.PutUint32(typ, v4l2BufTypeVideoCapture)
	return ioctl(s.f, vidiocStreamOn, typ)
}

func (s *v4l2Source) ReadFrame() (image.Image, error) {
	qbuf := make([]byte, 88)
	binary.LittleEndian.PutUint32(qbuf[4:8], v4l2BufTypeVideoCapture)
	binary.LittleEndian.PutUint32(qbuf[56:60], v4l2MemoryMmap)
	if err := ioctl(s.f, vidiocDQBuf, qbuf); err != nil {
		return nil, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	index := binary.LittleEndian.Uint32(qbuf[0:4])
	bytesUsed := binary.LittleEndian.Uint32(qbuf[8:12])

	if int(index) >= len(s.buffers) {
		return nil, fmt.Errorf("buffer index %d out of range", index)
	}
	raw := s.buffers[index][:bytesUsed]

	var img image.Image
	var err error
	switch s.format {
	case FormatYUYV:
		img, err = decodeYUYV(raw, captureWidth, captureHeight)
	default:
		img, err = decodeJPEGOrYUYV(raw, captureWidth, captureHeight)
	}

	if reqErr := ioctl(s.f, vidiocQBuf, qbuf); reqErr != nil && err == nil {
		err = fmt.Errorf("re-queue buffer %d: %w", index, reqErr)
	}
	return img, err
}

func (s *v4l2Source) Close() error {
	typ := make([]byte, 4)
	binary.LittleEndian.PutUint32(typ, v4l2BufTypeVideoCapture)
	ioctl(s.f, vidiocStreamOff, typ)
	s.releaseBuffers()
	return s.f.Close()
}

func (s *v4l2Source) releaseBuffers() {
	for _, b := range s.buffers {
		unix.Munmap(b)
	}
	s.buffers = nil
}

func ioctl(f *os.File, req uintptr, arg []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, uintptr(unsafe.Pointer(&arg[0])))
	if errno != 0 {
		return errno
	}
	return nil
}
