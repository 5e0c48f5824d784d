package hid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildReportSortsAndTruncates(t *testing.T) {
	r := BuildReport(0x11, []uint8{9, 4, 7, 30, 5, 6, 8})
	require.Equal(t, uint8(0x11), r[0])
	require.Equal(t, uint8(0), r[1])
	require.Equal(t, [6]byte{4, 5, 6, 7, 8, 9}, [6]byte(r[2:8]))
}

func TestBuildReportEmpty(t *testing.T) {
	r := BuildReport(0, nil)
	require.Equal(t, Report{}, r)
}

type recordingWriter struct {
	sends [][2]any
	up    int
}

func (r *recordingWriter) Send(modmask uint8, keys map[uint8]struct{}) error {
	cp := make(map[uint8]struct{}, len(keys))
	for k := range keys {
		cp[k] = struct{}{}
	}
	r.sends = append(r.sends, [2]any{modmask, cp})
	return nil
}
func (r *recordingWriter) AllUp() error { r.up++; return nil }
func (r *recordingWriter) Close() error { return nil }

func TestStatefulWriterModifierBit(t *testing.T) {
	rw := &recordingWriter{}
	sw := NewStatefulWriter(rw)
	require.NoError(t, sw.Press(224)) // left ctrl
	require.NoError(t, sw.Press(4))   // 'a'
	last := rw.sends[len(rw.sends)-1]
	require.Equal(t, uint8(1), last[0])
	keys := last[1].(map[uint8]struct{})
	_, ok := keys[4]
	require.True(t, ok)

	require.NoError(t, sw.Release(224))
	last = rw.sends[len(rw.sends)-1]
	require.Equal(t, uint8(0), last[0])

	require.NoError(t, sw.AllUp())
	require.Equal(t, 1, rw.up)
}
