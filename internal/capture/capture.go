package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/hidrelay/macrod/internal/framebuffer"
)

// OpenFunc opens a VideoSource for path; production callers pass
// NewV4L2Source, tests pass a fake.
type OpenFunc func(path string) (VideoSource, error)

// Status is the JSON-serialisable snapshot returned by the cv_status
// IPC command.
type Status struct {
	Connected      bool    `json:"connected"`
	Capturing      bool    `json:"capturing"`
	HasFrame       bool    `json:"has_frame"`
	FramesCaptured int     `json:"frames_captured"`
	FramesFailed   int     `json:"frames_failed"`
	LastError      *string `json:"last_error,omitempty"`
	DevicePath     string  `json:"device_path,omitempty"`
	DeviceIndex    int     `json:"device_index,omitempty"`
	Format         Format  `json:"format,omitempty"`
}

// Manager owns device discovery, the capture grabber goroutine, and
// the reconnection monitor. Grounded on msmacro/cv/capture.py's
// CVCapture.
type Manager struct {
	open        OpenFunc
	devDir      string
	sysDir      string
	preferred   string
	jpegQuality int
	maxWidth    int
	buffer      *framebuffer.Slot

	mu             sync.Mutex
	running        bool
	connected      bool
	device         Device
	format         Format
	framesCaptured int
	framesFailed   int
	lastError      *string

	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures a Manager.
type Options struct {
	DevDir         string // default "/dev"
	SysDir         string // default "/sys/class/video4linux"
	PreferredDevice string // MSMACRO_CV_DEVICE-style override
	JPEGQuality    int    // default 70
	MaxWidth       int    // downscale frames wider than this before encoding; 0 disables
}

// New builds a Manager that publishes frames into buffer, opening
// devices via open (pass NewV4L2Source-wrapping func in production).
func New(open OpenFunc, buffer *framebuffer.Slot, opts Options) *Manager {
	if opts.DevDir == "" {
		opts.DevDir = "/dev"
	}
	if opts.SysDir == "" {
		opts.SysDir = "/sys/class/video4linux"
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = 70
	}
	return &Manager{
		open:        open,
		devDir:      opts.DevDir,
		sysDir:      opts.SysDir,
		preferred:   opts.PreferredDevice,
		jpegQuality: opts.JPEGQuality,
		maxWidth:    opts.MaxWidth,
		buffer:      buffer,
	}
}

// Start discovers a device, opens it, and launches the grabber and
// reconnection-monitor goroutines.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	devices, err := ListVideoDevices(m.devDir, m.sysDir)
	if err != nil {
		return err
	}
	candidates := BuildCandidates(devices, m.preferred)

	var source VideoSource
	var opened Device
	var format Format
	var openErr error
	for _, cand := range candidates {
		if !ValidateAccess(cand.Path) {
			openErr = errNotAccessible(cand.Path)
			continue
		}
		src, err := m.open(cand.Path)
		if err != nil {
			openErr = err
			continue
		}
		fmt, err := src.Open()
		if err != nil {
			openErr = err
			continue
		}
		source, opened, format = src, cand, fmt
		break
	}
	if source == nil {
		if openErr == nil {
			openErr = errNoDevice()
		}
		m.setError(openErr.Error())
		return openErr
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.running = true
	m.connected = true
	m.device = opened
	m.format = format
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.grabLoop(runCtx, source)
	go m.monitorLoop(runCtx, source)
	return nil
}

// Stop cancels the grabber and monitor goroutines and waits for the
// grabber to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// grabLoop reads one frame every 500ms (2fps, matching CVCapture's
// "web UI polls every 2 seconds, 2 FPS is plenty"), JPEG-encodes it,
// and publishes it to the shared framebuffer slot.
func (m *Manager) grabLoop(ctx context.Context, source VideoSource) {
	defer close(m.done)
	defer source.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			img, err := source.ReadFrame()
			if err != nil {
				m.mu.Lock()
				m.framesFailed++
				m.connected = false
				m.mu.Unlock()
				m.setError("failed to read frame from capture device")
				continue
			}

			img = m.maybeDownscale(img)
			bounds := img.Bounds()
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.jpegQualitySnapshot()}); err != nil {
				m.mu.Lock()
				m.framesFailed++
				m.mu.Unlock()
				m.setError("failed to encode frame as JPEG")
				continue
			}

			m.buffer.Update(buf.Bytes(), framebuffer.Metadata{
				Timestamp: time.Now(),
				Width:     bounds.Dx(),
				Height:    bounds.Dy(),
				SizeBytes: buf.Len(),
			})

			m.mu.Lock()
			m.framesCaptured++
			m.connected = true
			m.mu.Unlock()
			m.clearError()
		}
	}
}

// maybeDownscale shrinks img to maxWidth (preserving aspect ratio) when
// configured. Map-config capture rectangles are calibrated against the
// device's native resolution, so MaxWidth is opt-in and 0 (disabled) by
// default — an operator turning it on is expected to recalibrate their
// saved rectangles against the scaled frame size.
func (m *Manager) maybeDownscale(img image.Image) image.Image {
	maxWidth := m.maxWidthSnapshot()
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	scale := float64(maxWidth) / float64(b.Dx())
	newH := int(float64(b.Dy()) * scale)
	if newH < 1 {
		newH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func (m *Manager) maxWidthSnapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxWidth
}

func (m *Manager) jpegQualitySnapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jpegQuality
}

// monitorLoop checks connectivity every 5 seconds and, when
// disconnected, retries device discovery with exponential backoff
// (1s, 2s, 4s, ... capped at 30s), matching CVCapture's
// reconnect-on-failure behaviour generalized from its fixed 5s poll.
func (m *Manager) monitorLoop(ctx context.Context, current VideoSource) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.isConnected() {
				backoff = time.Second
				continue
			}
			devices, err := ListVideoDevices(m.devDir, m.sysDir)
			if err != nil {
				continue
			}
			candidates := BuildCandidates(devices, m.preferred)
			reconnected := false
			for _, cand := range candidates {
				if !ValidateAccess(cand.Path) {
					continue
				}
				src, err := m.open(cand.Path)
				if err != nil {
					continue
				}
				format, err := src.Open()
				if err != nil {
					src.Close()
					continue
				}
				current.Close()
				current = src
				m.mu.Lock()
				m.connected = true
				m.device = cand
				m.format = format
				m.mu.Unlock()
				reconnected = true
				break
			}
			if !reconnected {
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}
	}
}

func (m *Manager) isConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Manager) setError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = &msg
}

func (m *Manager) clearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = nil
}

// GetStatus returns a snapshot for the cv_status IPC command.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _, hasFrame := m.buffer.Read()
	return Status{
		Connected:      m.connected,
		Capturing:      m.running,
		HasFrame:       hasFrame,
		FramesCaptured: m.framesCaptured,
		FramesFailed:   m.framesFailed,
		LastError:      m.lastError,
		DevicePath:     m.device.Path,
		DeviceIndex:    m.device.Index,
		Format:         m.format,
	}
}
