package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hidrelay/macrod/internal/apperr"
	"github.com/hidrelay/macrod/internal/capture"
	"github.com/hidrelay/macrod/internal/player"
	"github.com/hidrelay/macrod/internal/recorder"
	"github.com/hidrelay/macrod/internal/skills"
)

// Handle implements ipc.Handler, dispatching one decoded command to its
// daemon-side implementation. Grounded on msmacro/daemon.py's
// MacroDaemon.handle, generalized from its six-command table to the
// full command surface the daemon exposes.
func (d *Daemon) Handle(ctx context.Context, cmd string, params map[string]any) (any, error) {
	switch cmd {
	case "status":
		return d.status(), nil
	case "combined_status":
		return d.combinedStatus(), nil
	case "system_stats":
		return d.systemStats(), nil

	case "list":
		return d.cmdList()
	case "list_recursive":
		return d.cmdListRecursive()
	case "rename_recording":
		return d.cmdRenameRecording(params)

	case "record_start":
		return d.cmdRecordStart()
	case "save_last":
		return d.cmdSaveLast(params)
	case "discard_last":
		return d.cmdDiscardLast()
	case "preview_last":
		return d.cmdPreviewLast(ctx)

	case "play":
		return d.cmdPlay(ctx, params)
	case "play_selection":
		return d.cmdPlaySelection(ctx, params)
	case "stop":
		return d.cmdStop()

	case "list_skills":
		return d.skills.List()
	case "save_skill":
		return d.cmdSaveSkill(params)
	case "update_skill":
		return d.cmdUpdateSkill(params)
	case "delete_skill":
		return d.cmdDeleteSkill(params)
	case "get_selected_skills":
		return d.skills.Selected()
	case "reorder_skills":
		return d.cmdReorderSkills(params)

	case "cv_status":
		return d.cap.GetStatus(), nil
	case "cv_get_frame":
		return d.cmdGetFrame()
	case "cv_start":
		return d.cmdCVStart(ctx)
	case "cv_stop":
		d.cap.Stop()
		return map[string]any{"stopped": true}, nil
	case "cv_get_raw_minimap":
		return d.cmdGetRawMinimap()
	case "cv_reload_config":
		return d.cmdReloadDetectorConfig()

	case "object_detection_status":
		return map[string]any{"config": d.det.Config()}, nil
	case "object_detection_start":
		return d.cmdCVStart(ctx)
	case "object_detection_stop":
		d.cap.Stop()
		return map[string]any{"stopped": true}, nil
	case "object_detection_config":
		return d.det.Config(), nil
	case "object_detection_config_save":
		if err := d.saveDetectorConfig(); err != nil {
			return nil, err
		}
		return map[string]any{"saved": d.cfg.DetectorConfigPath}, nil
	case "object_detection_config_export":
		return d.cmdExportDetectorConfig()
	case "object_detection_performance":
		return d.det.PerformanceStats(), nil
	case "object_detection_calibrate":
		return d.cmdCalibrate(params)

	case "cv_auto_start":
		return d.cmdCVAutoStart(params)
	case "cv_auto_stop":
		if err := d.cvAutoStop(); err != nil {
			return nil, err
		}
		return map[string]any{"stopped": true}, nil
	case "cv_auto_status":
		st, ok := d.cvAutoStatus()
		if !ok {
			return map[string]any{"running": false}, nil
		}
		return st, nil

	// The front-end needs some entry point to populate the map-config
	// and cv-item documents cv_start/cv_auto_start reference by name;
	// these extend the command table rather than replace anything in it.
	case "list_map_configs":
		return d.maps.List(), nil
	case "get_map_config":
		return d.cmdGetMapConfig(params)
	case "save_map_config":
		return d.cmdSaveMapConfig(params)
	case "delete_map_config":
		return d.cmdDeleteMapConfig(params)
	case "activate_map_config":
		return d.cmdActivateMapConfig(params)

	case "list_cv_items":
		return d.items.List(), nil
	case "get_cv_item":
		return d.cmdGetCVItem(params)
	case "save_cv_item":
		return d.cmdSaveCVItem(params)
	case "delete_cv_item":
		return d.cmdDeleteCVItem(params)
	case "activate_cv_item":
		return d.cmdActivateCVItem(params)
	}

	return nil, apperr.Protocol(fmt.Sprintf("unknown cmd: %s", cmd), nil)
}

func paramString(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	if f, ok := v.(float64); ok {
		return f
	}
	return def
}

func paramInt(params map[string]any, key string, def int) int {
	return int(paramFloat(params, key, float64(def)))
}

// listRecordings returns every recording entry, preferring the sqlite
// index cache (avoids re-parsing JSON for files unchanged since the
// last call) and falling back to a plain directory walk if the daemon
// was built without one (e.g. in tests that construct Daemon directly).
func (d *Daemon) listRecordings() ([]recorder.Entry, error) {
	if d.index != nil {
		return d.index.Refresh(d.cfg.RecordDir)
	}
	return recorder.ListRecursive(d.cfg.RecordDir)
}

func (d *Daemon) cmdList() (any, error) {
	entries, err := d.listRecordings()
	if err != nil {
		return nil, apperr.Transient("daemon: list recordings", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return map[string]any{"files": names}, nil
}

func (d *Daemon) cmdListRecursive() (any, error) {
	entries, err := d.listRecordings()
	if err != nil {
		return nil, apperr.Transient("daemon: list recordings", err)
	}
	return map[string]any{"recordings": entries}, nil
}

func (d *Daemon) cmdRenameRecording(params map[string]any) (any, error) {
	from, ok := paramString(params, "from")
	if !ok || from == "" {
		return nil, apperr.Protocol("missing from", nil)
	}
	to, ok := paramString(params, "to")
	if !ok || to == "" {
		return nil, apperr.Protocol("missing to", nil)
	}
	fromPath, err := recorder.ResolvePath(d.cfg.RecordDir, from)
	if err != nil {
		return nil, apperr.Protocol("invalid from path", err)
	}
	toPath, err := recorder.ResolvePath(d.cfg.RecordDir, to)
	if err != nil {
		return nil, apperr.Protocol("invalid to path", err)
	}
	if _, err := os.Stat(toPath); err == nil {
		return nil, apperr.State("destination already exists", nil)
	}
	if err := os.Rename(fromPath, toPath); err != nil {
		return nil, apperr.Transient("daemon: rename recording", err)
	}
	return map[string]any{"renamed": toPath}, nil
}

func (d *Daemon) cmdRecordStart() (any, error) {
	if d.getMode() != ModeBridge {
		return nil, apperr.State(fmt.Sprintf("cannot start record from mode %s", d.getMode()), nil)
	}
	go d.doRecord(context.Background())
	return "recording", nil
}

func (d *Daemon) cmdSaveLast(params map[string]any) (any, error) {
	name, _ := paramString(params, "name")
	if d.getMode() == ModePostRecord {
		d.setPendingSaveName(name)
		if err := d.resolveChoice("CHOICE_SAVE"); err != nil {
			return nil, err
		}
		return map[string]any{"saving": true}, nil
	}
	var (
		path string
		err  error
	)
	if name != "" {
		path, err = d.saveLastAs(name)
	} else {
		path, err = d.saveLastTimestamped()
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"saved": path}, nil
}

func (d *Daemon) cmdDiscardLast() (any, error) {
	if d.getMode() == ModePostRecord {
		if err := d.resolveChoice("CHOICE_DISCARD"); err != nil {
			return nil, err
		}
		return map[string]any{"discarding": true}, nil
	}
	d.mu.Lock()
	had := d.lastActions != nil
	d.lastActions = nil
	d.mu.Unlock()
	if !had {
		return nil, apperr.State("no last recording", nil)
	}
	d.emit("DISCARDED", nil)
	return map[string]any{"discarded": true}, nil
}

func (d *Daemon) cmdPreviewLast(ctx context.Context) (any, error) {
	if d.getMode() == ModePostRecord {
		if err := d.resolveChoice("CHOICE_PLAY"); err != nil {
			return nil, err
		}
		return map[string]any{"previewing": true}, nil
	}
	go d.playLastOnce(ctx)
	return map[string]any{"previewing": true}, nil
}

func (d *Daemon) cmdPlay(ctx context.Context, params map[string]any) (any, error) {
	if d.getMode() != ModeBridge {
		return nil, apperr.State(fmt.Sprintf("cannot play from mode %s", d.getMode()), nil)
	}
	name, ok := paramString(params, "file")
	if !ok || name == "" {
		return nil, apperr.Protocol("missing file", nil)
	}
	path, err := recorder.ResolvePath(d.cfg.RecordDir, name)
	if err != nil {
		return nil, apperr.Protocol("invalid recording path", err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, apperr.Protocol(fmt.Sprintf("not found: %s", name), nil)
	}
	opts := player.DefaultOptions()
	opts.Speed = paramFloat(params, "speed", 1.0)
	opts.JitterTime = paramFloat(params, "jitter_time", 0.0)
	opts.JitterHold = paramFloat(params, "jitter_hold", 0.0)
	opts.Loop = paramInt(params, "loop", 1)
	opts.MinHoldS = d.cfg.MinHoldS
	opts.MinRepeatSameKeyS = d.cfg.MinRepeatSameKeyS
	opts.SkillInjector = d.newSkillInjector()
	go d.doPlay(context.Background(), path, opts)
	return map[string]any{"playing": path}, nil
}

// newSkillInjector builds an Injector over whichever skills are currently
// selected, seeded off the wall clock. A skills-load failure or an empty
// selection yields a nil injector, which player.Play treats as "no skill
// casting this playback" rather than an error.
func (d *Daemon) newSkillInjector() *skills.Injector {
	selected, err := d.skills.Selected()
	if err != nil || len(selected) == 0 {
		return nil
	}
	now := float64(time.Now().UnixNano()) / 1e9
	return skills.NewInjector(selected, now, time.Now().UnixNano())
}

// cmdPlaySelection is handled exactly like "play": it takes the same
// single "file" parameter and resolves it under the record dir. It does
// not accept a list of recordings or pick among several.
func (d *Daemon) cmdPlaySelection(ctx context.Context, params map[string]any) (any, error) {
	return d.cmdPlay(ctx, params)
}

func (d *Daemon) cmdStop() (any, error) {
	if d.getMode() == ModePlaying {
		d.stopPlayback()
		return map[string]any{"stopping": "playback"}, nil
	}
	if d.getMode() == ModeCVAuto {
		d.cvAutoStop()
		return map[string]any{"stopping": "cv_auto"}, nil
	}
	return map[string]any{"mode": string(d.getMode())}, nil
}

func (d *Daemon) cmdSaveSkill(params map[string]any) (any, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, apperr.Protocol("invalid skill payload", err)
	}
	var cfg skills.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, apperr.Protocol("invalid skill payload", err)
	}
	saved, err := d.skills.Save(cfg)
	d.audit.LogSkillChange(context.Background(), "skill_saved", saved.ID, err == nil)
	if err != nil {
		return nil, apperr.Transient("daemon: save skill", err)
	}
	return saved, nil
}

func (d *Daemon) cmdUpdateSkill(params map[string]any) (any, error) {
	id, ok := paramString(params, "id")
	if !ok || id == "" {
		return nil, apperr.Protocol("missing id", nil)
	}
	updates, _ := params["updates"].(map[string]any)
	updated, found, err := d.skills.Update(id, updates)
	d.audit.LogSkillChange(context.Background(), "skill_updated", id, err == nil && found)
	if err != nil {
		return nil, apperr.Transient("daemon: update skill", err)
	}
	if !found {
		return nil, apperr.Protocol("unknown skill id", nil)
	}
	return updated, nil
}

func (d *Daemon) cmdDeleteSkill(params map[string]any) (any, error) {
	id, ok := paramString(params, "id")
	if !ok || id == "" {
		return nil, apperr.Protocol("missing id", nil)
	}
	deleted := d.skills.Delete(id)
	d.audit.LogSkillChange(context.Background(), "skill_deleted", id, deleted)
	if !deleted {
		return nil, apperr.Protocol("unknown skill id", nil)
	}
	return map[string]any{"deleted": id}, nil
}

func (d *Daemon) cmdReorderSkills(params map[string]any) (any, error) {
	raw, _ := params["order"].([]any)
	order := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			order = append(order, s)
		}
	}
	if err := d.skills.Reorder(order); err != nil {
		return nil, apperr.Transient("daemon: reorder skills", err)
	}
	return map[string]any{"reordered": len(order)}, nil
}

func (d *Daemon) cmdGetFrame() (any, error) {
	data, meta, ok := d.frame.Read()
	if !ok {
		return nil, apperr.State("no frame available", nil)
	}
	return map[string]any{
		"jpeg_base64": base64.StdEncoding.EncodeToString(data),
		"width":       meta.Width,
		"height":      meta.Height,
		"timestamp":   meta.Timestamp.Unix(),
	}, nil
}

func (d *Daemon) cmdGetRawMinimap() (any, error) {
	return d.cmdGetFrame()
}

func (d *Daemon) cmdCVStart(ctx context.Context) (any, error) {
	if err := d.cap.Start(ctx); err != nil {
		return nil, apperr.Transient("daemon: start capture", err)
	}
	return map[string]any{"started": true}, nil
}

func (d *Daemon) cmdReloadDetectorConfig() (any, error) {
	data, err := os.ReadFile(d.cfg.DetectorConfigPath)
	if err != nil {
		return nil, apperr.Transient("daemon: read detector config", err)
	}
	cfg := d.det.Config()
	if err := loadDetectorConfig(data, &cfg); err != nil {
		return nil, apperr.Protocol("invalid detector config", err)
	}
	d.det.SetConfig(cfg)
	return map[string]any{"reloaded": true}, nil
}

func (d *Daemon) cmdExportDetectorConfig() (any, error) {
	data, err := d.exportDetectorConfigYAML()
	if err != nil {
		return nil, err
	}
	return map[string]any{"yaml": string(data)}, nil
}

func (d *Daemon) cmdCalibrate(params map[string]any) (any, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, apperr.Protocol("invalid calibration payload", err)
	}
	cfg := d.det.Config()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, apperr.Protocol("invalid calibration payload", err)
	}
	d.det.SetConfig(cfg)
	if err := d.saveDetectorConfig(); err != nil {
		return nil, err
	}
	return map[string]any{"calibrated": true}, nil
}

func (d *Daemon) cmdCVAutoStart(params map[string]any) (any, error) {
	name, ok := paramString(params, "item")
	if !ok || name == "" {
		return nil, apperr.Protocol("missing item", nil)
	}
	err := d.cvAutoStart(name)
	d.audit.LogCVAuto(context.Background(), "cv_auto_start", name, map[string]interface{}{"ok": err == nil})
	if err != nil {
		return nil, err
	}
	return map[string]any{"started": name}, nil
}

// SystemStats is the JSON-serialisable payload for the system_stats
// command: a minimal health snapshot, not a full metrics/observability
// layer, built from the same ambient status the daemon already tracks
// for other commands.
type SystemStats struct {
	Mode            string          `json:"mode"`
	CaptureStatus   capture.Status  `json:"capture"`
	HaveLastActions bool            `json:"have_last_actions"`
}

func (d *Daemon) systemStats() SystemStats {
	return SystemStats{
		Mode:            string(d.getMode()),
		CaptureStatus:   d.cap.GetStatus(),
		HaveLastActions: d.status().HaveLastAction,
	}
}
