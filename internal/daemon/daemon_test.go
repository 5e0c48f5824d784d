package daemon

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hidrelay/macrod/internal/bridge"
	"github.com/hidrelay/macrod/internal/capture"
	"github.com/hidrelay/macrod/internal/config"
	"github.com/hidrelay/macrod/internal/cvitem"
	"github.com/hidrelay/macrod/internal/detector"
	"github.com/hidrelay/macrod/internal/eventlog"
	"github.com/hidrelay/macrod/internal/framebuffer"
	"github.com/hidrelay/macrod/internal/hid"
	"github.com/hidrelay/macrod/internal/logging"
	"github.com/hidrelay/macrod/internal/mapconfig"
	"github.com/hidrelay/macrod/internal/player"
	"github.com/hidrelay/macrod/internal/recorder"
	"github.com/hidrelay/macrod/internal/skills"
)

// fakeWriter is a no-op hid.Writer good enough for the daemon's own
// tests, which exercise the FSM and command surface rather than the
// HID wire format (covered separately by internal/hid's own tests).
type fakeWriter struct{}

func (fakeWriter) Send(uint8, map[uint8]struct{}) error { return nil }
func (fakeWriter) AllUp() error                         { return nil }
func (fakeWriter) Close() error                         { return nil }

// fakeBridge satisfies bridgeRunner without touching a real evdev node,
// letting the daemon's record/choice-window orchestration run on any
// platform. Run blocks until Interrupt is called, mirroring how a real
// Bridge only returns once a hotkey chord (or an external interrupt,
// per choiceWindow racing an IPC decision) completes its session.
type fakeBridge struct {
	recordActions []recorder.Action
	recordErr     error
	runLabel      string
	runErr        error
	interruptCh   chan struct{}
	interruptOnce sync.Once
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{interruptCh: make(chan struct{})}
}

func (f *fakeBridge) Run() (string, error) {
	<-f.interruptCh
	return f.runLabel, f.runErr
}

func (f *fakeBridge) RunRecord(rec *recorder.Recorder, now float64AtCall) ([]recorder.Action, error) {
	return f.recordActions, f.recordErr
}

func (f *fakeBridge) Interrupt() {
	f.interruptOnce.Do(func() { close(f.interruptCh) })
}

// newTestDaemon builds a Daemon directly (bypassing New's hardware
// probing — hid.NewGadgetWriter and the V4L2 capture open both require
// Linux device nodes that do not exist in a test sandbox) wired to
// temp-directory-backed managers and a fakeWriter/fakeBridge pair.
func newTestDaemon(t *testing.T) (*Daemon, *fakeBridge) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.RecordDir = filepath.Join(dir, "recordings")
	cfg.SkillsDir = filepath.Join(dir, "skills")
	cfg.MapConfigPath = filepath.Join(dir, "maps.json")
	cfg.CVItemsPath = filepath.Join(dir, "cvitems.json")
	cfg.DetectorConfigPath = filepath.Join(dir, "detector.json")
	cfg.EventLogPath = filepath.Join(dir, "events.log")
	cfg.SocketPath = filepath.Join(dir, "macrod.sock")
	require.NoError(t, cfg.EnsureDirectories())

	ev, err := eventlog.Open(cfg.EventLogPath)
	require.NoError(t, err)

	skillsMgr, err := skills.NewManager(cfg.SkillsDir)
	require.NoError(t, err)
	mapsMgr, err := mapconfig.NewManager(cfg.MapConfigPath)
	require.NoError(t, err)
	itemsMgr, err := cvitem.NewManager(cfg.CVItemsPath, mapsMgr)
	require.NoError(t, err)

	det := detector.New(detector.DefaultConfig())
	frame := &framebuffer.Slot{}
	capMgr := capture.New(capture.OpenV4L2, frame, capture.Options{})

	var w hid.Writer = fakeWriter{}
	stateful := hid.NewStatefulWriter(w)

	auditCfg := logging.DefaultAuditConfig()
	auditCfg.FilePath = filepath.Join(dir, "audit.log")
	audit, err := logging.NewAuditLogger(auditCfg)
	require.NoError(t, err)

	fb := newFakeBridge()
	d := &Daemon{
		cfg:       cfg,
		log:       logging.Default().WithComponent("daemon-test"),
		ev:        ev,
		hidWriter: w,
		stateful:  stateful,
		player:    player.New(stateful, 1),
		skills:    skillsMgr,
		maps:      mapsMgr,
		items:     itemsMgr,
		det:       det,
		cap:       capMgr,
		frame:     frame,
		openBridge: func(evdevPath string, w hid.Writer, opts bridge.Options) (bridgeRunner, error) {
			return fb, nil
		},
		mode:      ModeBridge,
		evdevPath: "/dev/input/fake-keyboard",
		seed:      1,
		audit:     audit,
	}
	t.Cleanup(func() { d.Close() })
	return d, fb
}

func TestHandleUnknownCommandIsProtocolError(t *testing.T) {
	d, _ := newTestDaemon(t)
	_, err := d.Handle(context.Background(), "not_a_real_command", nil)
	require.Error(t, err)
}

func TestStatusReflectsMode(t *testing.T) {
	d, _ := newTestDaemon(t)
	st := d.status()
	require.Equal(t, string(ModeBridge), st.Mode)
	require.False(t, st.HaveLastAction)
}

func TestRecordStartRejectedOutsideBridgeMode(t *testing.T) {
	d, _ := newTestDaemon(t)
	d.setMode(ModeCVAuto)
	_, err := d.Handle(context.Background(), "record_start", nil)
	require.Error(t, err)
}

func TestSkillCRUDViaHandle(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx := context.Background()

	saved, err := d.Handle(ctx, "save_skill", map[string]any{
		"name":      "Fireblast",
		"keystroke": "F1",
		"cooldown":  5.0,
	})
	require.NoError(t, err)
	cfg, ok := saved.(skills.Config)
	require.True(t, ok)
	require.NotEmpty(t, cfg.ID)
	require.Equal(t, "Fireblast", cfg.Name)

	list, err := d.Handle(ctx, "list_skills", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)

	updated, err := d.Handle(ctx, "update_skill", map[string]any{
		"id":      cfg.ID,
		"updates": map[string]any{"cooldown": 8.0},
	})
	require.NoError(t, err)
	require.Equal(t, 8.0, updated.(skills.Config).Cooldown)

	_, err = d.Handle(ctx, "delete_skill", map[string]any{"id": cfg.ID})
	require.NoError(t, err)

	_, err = d.Handle(ctx, "delete_skill", map[string]any{"id": cfg.ID})
	require.Error(t, err, "deleting an already-deleted skill id is a protocol error")
}

func TestCVAutoStartUnknownItemIsProtocolError(t *testing.T) {
	d, _ := newTestDaemon(t)
	_, err := d.Handle(context.Background(), "cv_auto_start", map[string]any{"item": "does-not-exist"})
	require.Error(t, err)
}

// TestRecordSaveRacesIPCOverHotkey exercises the post-record race
// resolution: whichever of {hotkey choice, IPC command} resolves the
// post-record choice window first wins. Here the fake choice-bridge's
// Run() blocks indefinitely (as if no hotkey had been pressed yet), so
// the IPC-driven save_last must be the one that resolves the window.
func TestRecordSaveRacesIPCOverHotkey(t *testing.T) {
	d, fb := newTestDaemon(t)
	fb.recordActions = []recorder.Action{{Usage: 4, Press: 0, Dur: 0.1}}
	ctx := context.Background()

	_, err := d.Handle(ctx, "record_start", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.getMode() == ModePostRecord
	}, 2*time.Second, 5*time.Millisecond, "daemon should reach POSTRECORD after the fake record session returns")

	_, err = d.Handle(ctx, "save_last", map[string]any{"name": "test-capture"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.getMode() == ModeBridge
	}, 2*time.Second, 5*time.Millisecond, "daemon should return to BRIDGE once the choice resolves")

	path := filepath.Join(d.cfg.RecordDir, "test-capture.json")
	rec, err := recorder.Load(path)
	require.NoError(t, err)
	require.Equal(t, fb.recordActions, rec.Actions)

	require.False(t, d.status().HaveLastAction)

	// The loser of the race gets a state error: there is no longer a
	// pending choice to resolve.
	err = d.resolveChoice("CHOICE_DISCARD")
	require.Error(t, err)
}

func TestRecordDiscardViaHandle(t *testing.T) {
	d, fb := newTestDaemon(t)
	fb.recordActions = []recorder.Action{{Usage: 5, Press: 0, Dur: 0.05}}
	ctx := context.Background()

	_, err := d.Handle(ctx, "record_start", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.getMode() == ModePostRecord
	}, 2*time.Second, 5*time.Millisecond)

	_, err = d.Handle(ctx, "discard_last", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.getMode() == ModeBridge
	}, 2*time.Second, 5*time.Millisecond)

	require.False(t, d.status().HaveLastAction)
}
