package player

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hidrelay/macrod/internal/hid"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu    sync.Mutex
	sends []hid.Report
}

func (r *recordingWriter) Send(modmask uint8, keys map[uint8]struct{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ks := make([]uint8, 0, len(keys))
	for k := range keys {
		ks = append(ks, k)
	}
	r.sends = append(r.sends, hid.BuildReport(modmask, ks))
	return nil
}
func (r *recordingWriter) AllUp() error { return r.Send(0, nil) }
func (r *recordingWriter) Close() error { return nil }

func writeRecording(t *testing.T, actions []map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.json")
	data, err := json.Marshal(map[string]any{"t0": 0.0, "actions": actions})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestPlaySingleTapSendsPressAndRelease(t *testing.T) {
	path := writeRecording(t, []map[string]any{{"usage": 4, "press": 0.0, "dur": 0.01}})
	rw := &recordingWriter{}
	p := New(hid.NewStatefulWriter(rw), 1)

	ok, err := p.Play(context.Background(), path, DefaultOptions())
	require.NoError(t, err)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(rw.sends), 2)
}

func TestPlayHonoursContextCancellation(t *testing.T) {
	path := writeRecording(t, []map[string]any{{"usage": 4, "press": 1.0, "dur": 0.01}})
	rw := &recordingWriter{}
	p := New(hid.NewStatefulWriter(rw), 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	ok, err := p.Play(ctx, path, DefaultOptions())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPlayEmptyRecordingReturnsTrueImmediately(t *testing.T) {
	path := writeRecording(t, []map[string]any{})
	rw := &recordingWriter{}
	p := New(hid.NewStatefulWriter(rw), 1)
	ok, err := p.Play(context.Background(), path, DefaultOptions())
	require.NoError(t, err)
	require.True(t, ok)
}
