package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitAppendsJSONLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	log, err := Open(path)
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Emit(EventMode, map[string]any{"mode": "RECORDING"})
	require.NoError(t, err)
	_, err = log.Emit(EventSaved, map[string]any{"name": "combo1"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines []map[string]any
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	require.Equal(t, "MODE", lines[0]["event"])
	require.Equal(t, "RECORDING", lines[0]["mode"])
	require.Equal(t, "SAVED", lines[1]["event"])
	require.Equal(t, "combo1", lines[1]["name"])
}

func TestTailDeliversExistingAndNewLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	log, err := Open(path)
	require.NoError(t, err)

	_, err = log.Emit(EventMode, map[string]any{"mode": "BRIDGE"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	received := make(chan []byte, 8)
	go Tail(ctx, path, 20*time.Millisecond, func(line []byte) {
		cp := append([]byte(nil), line...)
		select {
		case received <- cp:
		default:
		}
	})

	first := <-received
	var m map[string]any
	require.NoError(t, json.Unmarshal(first, &m))
	require.Equal(t, "BRIDGE", m["mode"])

	_, err = log.Emit(EventRecordStart, nil)
	require.NoError(t, err)

	second := <-received
	require.NoError(t, json.Unmarshal(second, &m))
	require.Equal(t, "RECORD_START", m["event"])
}
