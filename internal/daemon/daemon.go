// Package daemon coordinates every other component behind a single
// cooperative state machine: idle bridging, recording, the post-record
// save/play/discard choice window, scripted playback, and the
// CV-autonomous navigation loop. Grounded on msmacro/daemon.py's
// MacroDaemon, generalized from its two fixed modes (BRIDGE/RECORDING)
// plus a bolt-on PLAYING wait to a five-mode machine with a CV_AUTO
// branch and a socket command surface wide enough to drive it.
package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hidrelay/macrod/internal/apperr"
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
	"github.com/hidrelay/macrod/internal/pathfinder"
	"github.com/hidrelay/macrod/internal/player"
	"github.com/hidrelay/macrod/internal/portflow"
	"github.com/hidrelay/macrod/internal/recorder"
	"github.com/hidrelay/macrod/internal/skills"
)

// Mode is one of the daemon's cooperative states.
type Mode string

const (
	ModeInit       Mode = "INIT"
	ModeBridge     Mode = "BRIDGE"
	ModeRecording  Mode = "RECORDING"
	ModePostRecord Mode = "POSTRECORD"
	ModePlaying    Mode = "PLAYING"
	ModeCVAuto     Mode = "CV_AUTO"
)

// bridgeRunner is the subset of *bridge.Bridge the daemon drives;
// satisfied identically by the linux and non-linux build of Bridge so
// tests can substitute a fake without a real evdev node.
type bridgeRunner interface {
	Run() (string, error)
	RunRecord(rec *recorder.Recorder, nowSeconds float64AtCall) ([]recorder.Action, error)
	Interrupt()
}

// float64AtCall documents that RunRecord takes a func() float64; kept as
// a named type only so bridgeRunner's method signature reads the same as
// *bridge.Bridge's without importing an extra alias everywhere.
type float64AtCall = func() float64

// openBridge abstracts bridge.New for tests.
type openBridge func(evdevPath string, w hid.Writer, opts bridge.Options) (bridgeRunner, error)

func defaultOpenBridge(evdevPath string, w hid.Writer, opts bridge.Options) (bridgeRunner, error) {
	return bridge.New(evdevPath, w, opts)
}

// Daemon wires every domain manager together and exposes the command
// surface the IPC layer dispatches into.
type Daemon struct {
	cfg *config.Config
	log *logging.Logger
	ev  *eventlog.Log

	hidWriter hid.Writer
	stateful  *hid.StatefulWriter
	player    *player.Player

	skills *skills.Manager
	maps   *mapconfig.Manager
	items  *cvitem.Manager
	det    *detector.Detector
	cap    *capture.Manager
	frame  *framebuffer.Slot
	index  *recorder.Index

	openBridge openBridge

	mu          sync.Mutex
	mode        Mode
	evdevPath   string
	lastActions     []recorder.Action
	playCancel      context.CancelFunc
	choice          *choiceWindow
	pendingSaveName string

	cv *cvAutoController

	seed int64

	audit *logging.AuditLogger
}

// New builds a Daemon from cfg. Callers must call Close when done.
func New(cfg *config.Config, log *logging.Logger) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, apperr.Fatal("daemon: prepare directories", err)
	}
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent("daemon")

	ev, err := eventlog.Open(cfg.EventLogPath)
	if err != nil {
		return nil, apperr.Fatal("daemon: open event log", err)
	}

	w, err := hid.NewGadgetWriter(cfg.HIDGadgetPath)
	if err != nil {
		return nil, apperr.Fatal("daemon: open HID gadget", err)
	}

	skillsMgr, err := skills.NewManager(cfg.SkillsDir)
	if err != nil {
		return nil, apperr.Fatal("daemon: init skills manager", err)
	}
	mapsMgr, err := mapconfig.NewManager(cfg.MapConfigPath)
	if err != nil {
		return nil, apperr.Fatal("daemon: init map config manager", err)
	}
	itemsMgr, err := cvitem.NewManager(cfg.CVItemsPath, mapsMgr)
	if err != nil {
		return nil, apperr.Fatal("daemon: init cv item manager", err)
	}
	index, err := recorder.OpenIndex(cfg.RecordIndexPath)
	if err != nil {
		return nil, apperr.Fatal("daemon: open recording index", err)
	}

	detCfg := detector.DefaultConfig()
	if data, err := os.ReadFile(cfg.DetectorConfigPath); err == nil {
		_ = loadDetectorConfig(data, &detCfg)
	}
	det := detector.New(detCfg)

	frame := &framebuffer.Slot{}
	capMgr := capture.New(capture.OpenV4L2, frame, capture.Options{
		PreferredDevice: cfg.CaptureDevicePreference,
		JPEGQuality:     cfg.CaptureJPEGQuality,
	})

	stateful := hid.NewStatefulWriter(w)

	auditCfg := logging.DefaultAuditConfig()
	auditCfg.FilePath = filepath.Join(filepath.Dir(cfg.EventLogPath), "audit.log")
	audit, err := logging.NewAuditLogger(auditCfg)
	if err != nil {
		return nil, apperr.Fatal("daemon: init audit logger", err)
	}
	if gw, ok := w.(interface{ SetOnBreakerTrip(func()) }); ok {
		gw.SetOnBreakerTrip(func() {
			audit.LogHIDFault(context.Background(), cfg.HIDGadgetPath, true)
		})
	}

	d := &Daemon{
		cfg:        cfg,
		log:        log,
		ev:         ev,
		hidWriter:  w,
		stateful:   stateful,
		player:     player.New(stateful, time.Now().UnixNano()),
		skills:     skillsMgr,
		maps:       mapsMgr,
		items:      itemsMgr,
		det:        det,
		cap:        capMgr,
		frame:      frame,
		index:      index,
		openBridge: defaultOpenBridge,
		mode:       ModeInit,
		evdevPath:  cfg.EvdevPath,
		seed:       time.Now().UnixNano(),
		audit:      audit,
	}
	audit.LogStartup(context.Background(), "", map[string]interface{}{"socket": cfg.SocketPath})
	return d, nil
}

// Close releases the daemon's own resources (not the IPC server, which
// the caller owns).
func (d *Daemon) Close() error {
	d.audit.LogShutdown(context.Background(), "daemon_close")
	d.audit.Close()
	d.cap.Stop()
	d.hidWriter.Close()
	if d.index != nil {
		d.index.Close()
	}
	return d.ev.Close()
}

func (d *Daemon) setMode(m Mode) {
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()
	d.emit("MODE", map[string]any{"mode": string(m)})
}

func (d *Daemon) getMode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *Daemon) emit(kind string, fields map[string]any) {
	if _, err := d.ev.Emit(kind, fields); err != nil {
		d.log.Warn("emit failed", "kind", kind, "err", err)
	}
}

// Run starts the bridge-forever loop and blocks until ctx is cancelled.
// It also watches the map-config file for out-of-process edits (a
// front-end saving departure points directly to disk), reloading the
// map-config manager and emitting MAP_CONFIG_RELOADED. A CV-auto run
// already in progress keeps the map config and departure points it
// started with.
func (d *Daemon) Run(ctx context.Context) error {
	go func() {
		if err := d.maps.Watch(ctx, d.log, func() {
			d.emit("MAP_CONFIG_RELOADED", nil)
		}); err != nil {
			d.log.Warn("map config watch exited", "err", err)
		}
	}()
	return d.bridgeForever(ctx)
}

func (d *Daemon) waitForKeyboard(ctx context.Context) error {
	for {
		d.mu.Lock()
		path := d.evdevPath
		d.mu.Unlock()
		if path != "" {
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		}
		found, err := bridge.FindKeyboardEvent()
		if err == nil {
			d.mu.Lock()
			d.evdevPath = found
			d.mu.Unlock()
			d.log.Info("keyboard found", "path", found)
			return nil
		}
		d.log.Debug("keyboard probe failed", "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// bridgeForever is the daemon's idle loop: bridge keystrokes through to
// the gadget until the record hotkey fires a recording session.
func (d *Daemon) bridgeForever(ctx context.Context) error {
	for {
		if err := d.waitForKeyboard(ctx); err != nil {
			return err
		}
		d.setMode(ModeBridge)

		d.mu.Lock()
		evdevPath := d.evdevPath
		d.mu.Unlock()

		b, err := d.openBridge(evdevPath, d.hidWriter, bridge.Options{
			StopHotkey:   d.cfg.StopHotkey,
			RecordHotkey: d.cfg.RecordHotkey,
			Grab:         true,
		})
		if err != nil {
			d.log.Warn("bridge open failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}
		d.audit.LogBridgeGrab(ctx, evdevPath, true)

		result, err := b.Run()
		d.audit.LogBridgeGrab(ctx, evdevPath, false)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Warn("bridge run failed", "err", err)
			continue
		}
		if result == "RECORD" {
			d.doRecord(ctx)
		}
	}
}

func (d *Daemon) doRecord(ctx context.Context) {
	d.setMode(ModeRecording)
	d.emit("RECORD_START", nil)
	d.audit.LogRecordStart(ctx)

	d.mu.Lock()
	evdevPath := d.evdevPath
	d.mu.Unlock()

	b, err := d.openBridge(evdevPath, d.hidWriter, bridge.Options{
		StopHotkey:   d.cfg.StopHotkey,
		RecordHotkey: d.cfg.RecordHotkey,
		Grab:         true,
	})
	if err != nil {
		d.log.Warn("bridge open failed for record", "err", err)
		d.setMode(ModeBridge)
		return
	}
	rec := recorder.New(0)
	actions, err := b.RunRecord(rec, func() float64 { return nowSeconds() })
	if err != nil {
		d.log.Warn("record failed", "err", err)
	}
	d.mu.Lock()
	d.lastActions = actions
	d.mu.Unlock()
	d.emit("RECORD_STOP", map[string]any{"count": len(actions)})

	for {
		label, ok := d.choiceWindow(ctx, evdevPath)
		if !ok {
			break // timeout or interrupt: keep lastActions, return to bridge
		}
		switch label {
		case "CHOICE_SAVE":
			if name := d.takePendingSaveName(); name != "" {
				d.saveLastAs(name)
			} else {
				d.saveLastTimestamped()
			}
			goto done
		case "CHOICE_PLAY":
			d.playLastOnce(ctx)
			continue
		case "CHOICE_DISCARD":
			d.mu.Lock()
			d.lastActions = nil
			d.mu.Unlock()
			d.emit("DISCARDED", nil)
			goto done
		}
	}
done:
	d.setMode(ModeBridge)
}

var nowSeconds = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }

func (d *Daemon) saveLastTimestamped() (string, error) {
	d.mu.Lock()
	actions := d.lastActions
	d.mu.Unlock()
	if actions == nil {
		return "", apperr.State("no last recording", nil)
	}
	name := time.Now().UTC().Format("rec_20060102_150405")
	return d.saveLastAs(name)
}

func (d *Daemon) saveLastAs(name string) (string, error) {
	d.mu.Lock()
	actions := d.lastActions
	d.mu.Unlock()
	if actions == nil {
		return "", apperr.State("no last recording", nil)
	}
	rec := recorder.New(0)
	rec.Actions = actions
	path, err := recorder.ResolvePath(d.cfg.RecordDir, name+".json")
	if err != nil {
		return "", apperr.Protocol("invalid recording name", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", apperr.Transient("daemon: mkdir record dir", err)
	}
	if err := rec.Save(path); err != nil {
		return "", apperr.Transient("daemon: save recording", err)
	}
	d.mu.Lock()
	d.lastActions = nil
	d.mu.Unlock()
	d.emit("SAVED", map[string]any{"path": path})
	d.audit.LogRecordSaved(context.Background(), path, len(actions))
	return path, nil
}

func (d *Daemon) playLastOnce(ctx context.Context) error {
	d.mu.Lock()
	actions := d.lastActions
	d.mu.Unlock()
	if actions == nil {
		return apperr.State("no last recording", nil)
	}
	rec := recorder.New(0)
	rec.Actions = actions
	tmp := filepath.Join(d.cfg.RecordDir, "_temp_play.json")
	if err := rec.Save(tmp); err != nil {
		return apperr.Transient("daemon: stage temp playback", err)
	}
	opts := player.DefaultOptions()
	opts.SkillInjector = d.newSkillInjector()
	return d.doPlay(ctx, tmp, opts)
}

// doPlay runs one playback to completion (or until stopped), watching
// the stop hotkey on a second, independent grab of the keyboard since
// the Player owns the HID endpoint but not the input device.
func (d *Daemon) doPlay(ctx context.Context, path string, opts player.Options) error {
	d.setMode(ModePlaying)
	d.emit("PLAY_START", map[string]any{"file": path})
	d.audit.LogPlayStart(ctx, path, opts.Speed, opts.Loop)
	defer func() {
		d.emit("PLAY_STOP", nil)
		d.setMode(ModeBridge)
	}()

	if err := d.waitForKeyboard(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	evdevPath := d.evdevPath
	d.mu.Unlock()

	playCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.playCancel = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.playCancel = nil
		d.mu.Unlock()
		cancel()
	}()

	go func() {
		if err := bridge.WaitHotkeyRelease(playCtx, evdevPath, d.cfg.StopHotkey); err == nil {
			cancel()
		}
	}()

	_, err := d.player.Play(playCtx, path, opts)
	if err != nil && playCtx.Err() == nil {
		return apperr.Transient("daemon: playback failed", err)
	}
	return nil
}

func (d *Daemon) setPendingSaveName(name string) {
	d.mu.Lock()
	d.pendingSaveName = name
	d.mu.Unlock()
}

func (d *Daemon) takePendingSaveName() string {
	d.mu.Lock()
	name := d.pendingSaveName
	d.pendingSaveName = ""
	d.mu.Unlock()
	return name
}

func (d *Daemon) stopPlayback() bool {
	d.mu.Lock()
	cancel := d.playCancel
	d.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Status is the JSON-serialisable snapshot for the "status" command.
type Status struct {
	Mode           string `json:"mode"`
	RecordDir      string `json:"record_dir"`
	Socket         string `json:"socket"`
	Keyboard       string `json:"keyboard"`
	HaveLastAction bool   `json:"have_last_actions"`
}

func (d *Daemon) status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Mode:           string(d.mode),
		RecordDir:      d.cfg.RecordDir,
		Socket:         d.cfg.SocketPath,
		Keyboard:       d.evdevPath,
		HaveLastAction: d.lastActions != nil,
	}
}

// CombinedStatus additionally reports capture/detector/navigator state
// for the web front-end's single-poll dashboard.
type CombinedStatus struct {
	Status
	Capture  capture.Status   `json:"capture"`
	CVAuto   *CVAutoStatus    `json:"cv_auto,omitempty"`
	Detector detector.PerformanceStats `json:"detector_performance"`
}

func (d *Daemon) combinedStatus() CombinedStatus {
	cs := CombinedStatus{
		Status:   d.status(),
		Capture:  d.cap.GetStatus(),
		Detector: d.det.PerformanceStats(),
	}
	if st, ok := d.cvAutoStatus(); ok {
		cs.CVAuto = &st
	}
	return cs
}
