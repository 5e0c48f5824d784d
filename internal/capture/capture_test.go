package capture

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hidrelay/macrod/internal/framebuffer"
)

type fakeSource struct {
	mu     sync.Mutex
	opened bool
	closed bool
	fail   bool
}

func (s *fakeSource) Open() (Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return FormatYUYV, nil
}

func (s *fakeSource) ReadFrame() (image.Image, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return nil, os.ErrClosed
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	return img, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func setupDevDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video0"), nil, 0o644))
	return dir
}

func TestStartPublishesFramesToBuffer(t *testing.T) {
	devDir := setupDevDir(t)
	src := &fakeSource{}
	var buf framebuffer.Slot
	m := New(func(path string) (VideoSource, error) { return src, nil }, &buf, Options{DevDir: devDir, SysDir: t.TempDir()})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool {
		_, _, ok := buf.Read()
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	status := m.GetStatus()
	require.True(t, status.Connected)
	require.True(t, status.Capturing)
}

func TestStartFailsWithNoDevices(t *testing.T) {
	var buf framebuffer.Slot
	m := New(func(path string) (VideoSource, error) { return &fakeSource{}, nil }, &buf, Options{DevDir: t.TempDir(), SysDir: t.TempDir()})
	err := m.Start(context.Background())
	require.Error(t, err)
}

func TestStopClosesSourceAndStopsGrabbing(t *testing.T) {
	devDir := setupDevDir(t)
	src := &fakeSource{}
	var buf framebuffer.Slot
	m := New(func(path string) (VideoSource, error) { return src, nil }, &buf, Options{DevDir: devDir, SysDir: t.TempDir()})

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool {
		_, _, ok := buf.Read()
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	m.Stop()

	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	require.True(t, closed)

	status := m.GetStatus()
	require.False(t, status.Capturing)
}

func TestMaybeDownscaleShrinksWideFrames(t *testing.T) {
	var buf framebuffer.Slot
	m := New(func(path string) (VideoSource, error) { return &fakeSource{}, nil }, &buf, Options{MaxWidth: 100})

	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	out := m.maybeDownscale(img)
	require.Equal(t, 100, out.Bounds().Dx())
	require.Equal(t, 50, out.Bounds().Dy())
}

func TestMaybeDownscaleNoOpWhenDisabledOrAlreadyNarrow(t *testing.T) {
	var buf framebuffer.Slot
	disabled := New(func(path string) (VideoSource, error) { return &fakeSource{}, nil }, &buf, Options{})
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	require.Same(t, img, disabled.maybeDownscale(img))

	narrow := New(func(path string) (VideoSource, error) { return &fakeSource{}, nil }, &buf, Options{MaxWidth: 800})
	require.Same(t, img, narrow.maybeDownscale(img))
}

func TestGetStatusReportsFailedFrames(t *testing.T) {
	devDir := setupDevDir(t)
	src := &fakeSource{fail: true}
	var buf framebuffer.Slot
	m := New(func(path string) (VideoSource, error) { return src, nil }, &buf, Options{DevDir: devDir, SysDir: t.TempDir()})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.GetStatus().FramesFailed > 0
	}, 2*time.Second, 20*time.Millisecond)

	status := m.GetStatus()
	require.NotNil(t, status.LastError)
}
