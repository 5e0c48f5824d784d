package daemon

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/hidrelay/macrod/internal/apperr"
	"github.com/hidrelay/macrod/internal/cvitem"
	"github.com/hidrelay/macrod/internal/keymap"
	"github.com/hidrelay/macrod/internal/mapconfig"
	"github.com/hidrelay/macrod/internal/navigator"
	"github.com/hidrelay/macrod/internal/pathfinder"
	"github.com/hidrelay/macrod/internal/player"
	"github.com/hidrelay/macrod/internal/portflow"
	"github.com/hidrelay/macrod/internal/recorder"
)

// cvAutoController runs the point-to-point navigation loop: sample the
// detected player position against a CVItem's departure points, drive
// the pathfinder or portflow handler toward whichever point isn't
// currently satisfied, and play its linked rotation once reached.
// Grounded on msmacro/daemon/point_navigator.py's use from the daemon's
// CV-auto entry point (the surrounding orchestration, absent from
// daemon.py itself, is this module's addition).
type cvAutoController struct {
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	itemName string
	nav      *navigator.Navigator
	lastErr  string
}

// CVAutoStatus reports the navigation loop's progress for cv_auto_status.
type CVAutoStatus struct {
	Running  bool             `json:"running"`
	ItemName string           `json:"item_name"`
	LastErr  string           `json:"last_error,omitempty"`
	Nav      navigator.State  `json:"navigator"`
}

func (d *Daemon) cvAutoStatus() (CVAutoStatus, bool) {
	d.mu.Lock()
	cv := d.cv
	d.mu.Unlock()
	if cv == nil {
		return CVAutoStatus{}, false
	}
	cv.mu.Lock()
	defer cv.mu.Unlock()
	st := CVAutoStatus{Running: cv.running, ItemName: cv.itemName, LastErr: cv.lastErr}
	if cv.nav != nil {
		st.Nav = cv.nav.Status()
	}
	return st, true
}

func (d *Daemon) cvAutoStart(itemName string) error {
	d.mu.Lock()
	if d.cv != nil && d.cv.running {
		d.mu.Unlock()
		return apperr.State("cv auto already running", nil)
	}
	d.mu.Unlock()

	item, ok := d.items.Get(itemName)
	if !ok {
		return apperr.Protocol("unknown cv item", nil)
	}
	if err := item.Validate(); err != nil {
		return apperr.Protocol(err.Error(), nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cv := &cvAutoController{
		running:  true,
		cancel:   cancel,
		itemName: itemName,
		nav:      navigator.New(item.DeparturePoints, true, time.Now().UnixNano()),
	}
	d.mu.Lock()
	d.cv = cv
	d.mu.Unlock()

	d.setMode(ModeCVAuto)
	if err := d.cap.Start(ctx); err != nil {
		d.log.Warn("cv auto: capture start failed", "err", err)
	}
	go d.cvAutoLoop(ctx, cv, item)
	d.emit("CV_AUTO_STARTED", map[string]any{"item": itemName})
	return nil
}

func (d *Daemon) cvAutoStop() error {
	d.mu.Lock()
	cv := d.cv
	d.mu.Unlock()
	if cv == nil {
		return apperr.State("cv auto not running", nil)
	}
	cv.mu.Lock()
	running := cv.running
	cv.mu.Unlock()
	if !running {
		return apperr.State("cv auto not running", nil)
	}
	cv.cancel()
	return nil
}

func (d *Daemon) cvAutoLoop(ctx context.Context, cv *cvAutoController, item cvitem.Item) {
	defer func() {
		cv.mu.Lock()
		cv.running = false
		cv.mu.Unlock()
		d.cap.Stop()
		d.setMode(ModeBridge)
		d.emit("CV_AUTO_STOPPED", map[string]any{"item": cv.itemName})
	}()

	var mc mapconfig.MapConfig
	if item.MapConfigName != nil {
		mc, _ = d.maps.Get(*item.MapConfigName)
	}

	pf := pathfinder.New(d.hidWriter, time.Now().UnixNano())
	pfCfg := buildClassConfig(item)
	port := portflow.New(d.hidWriter)

	sample := func() (pathfinder.Point, bool) {
		p, ok := d.sampleMinimapPosition(mc)
		return pathfinder.Point{X: p.X, Y: p.Y}, ok
	}
	portSample := func() (portflow.Point, bool) {
		p, ok := d.sampleMinimapPosition(mc)
		return portflow.Point{X: p.X, Y: p.Y}, ok
	}
	ticker := time.NewTicker(750 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		point, ok := cv.nav.Current()
		if !ok {
			return
		}
		pos, ok := sample()
		if ok && point.CheckHit(pos.X, pos.Y) {
			d.emit("CV_AUTO_POINT_HIT", map[string]any{"point": point.Name})
			if rp, ok := cv.nav.SelectRotation(point); ok && rp != "" {
				d.playCVRotation(ctx, rp)
			}
			if !cv.nav.Advance() {
				return
			}
			continue
		}

		var err error
		if point.IsTeleportPoint {
			_, err = port.Execute(ctx, point, portSample)
		} else {
			_, err = pf.NavigateTo(ctx, pathfinder.Point{X: pos.X, Y: pos.Y}, point, pfCfg, nil, sample)
		}
		if err != nil {
			cv.mu.Lock()
			cv.lastErr = err.Error()
			cv.mu.Unlock()
			d.log.Warn("cv auto navigation step failed", "err", err)
		}
	}
}

func (d *Daemon) playCVRotation(ctx context.Context, path string) {
	resolved, err := recorder.ResolvePath(d.cfg.RecordDir, path)
	if err != nil {
		d.log.Warn("cv auto: rotation path invalid", "path", path, "err", err)
		return
	}
	opts := player.DefaultOptions()
	opts.SkillInjector = d.newSkillInjector()
	if err := d.doPlay(ctx, resolved, opts); err != nil {
		d.log.Warn("cv auto: rotation playback failed", "err", err)
	}
}

// sampleMinimapPosition decodes the latest published frame, crops it to
// mc's capture rectangle when set, and runs the detector against the
// crop. The framebuffer only ever holds JPEG bytes (a wire-format cache,
// not a raw-image cache), so CV-auto pays a decode per tick the same way
// a remote viewer would.
func (d *Daemon) sampleMinimapPosition(mc mapconfig.MapConfig) (struct{ X, Y int }, bool) {
	data, _, ok := d.frame.Read()
	if !ok {
		return struct{ X, Y int }{}, false
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return struct{ X, Y int }{}, false
	}
	if mc.Width > 0 && mc.Height > 0 {
		img = cropImage(img, image.Rect(mc.TLX, mc.TLY, mc.TLX+mc.Width, mc.TLY+mc.Height))
	}
	res := d.det.Detect(img)
	if !res.Player.Detected {
		return struct{ X, Y int }{}, false
	}
	return struct{ X, Y int }{X: res.Player.X, Y: res.Player.Y}, true
}

// cropImage crops img to r. *image.YCbCr (what image/jpeg.Decode
// returns) implements SubImage directly with no copy; anything else
// falls back to golang.org/x/image/draw.Draw, the same library the
// capture pipeline already depends on for its optional pre-encode
// downscale.
func cropImage(img image.Image, r image.Rectangle) image.Image {
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	r = r.Intersect(img.Bounds())
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

func buildClassConfig(item cvitem.Item) *pathfinder.ClassConfig {
	pc := item.PathfindingConfig
	if pc.ClassType == "" {
		return nil
	}
	cfg := &pathfinder.ClassConfig{
		ClassType:   pathfinder.ClassType(pc.ClassType),
		JumpKey:     keymap.NameToUsage("SPACE"),
	}
	if pc.RopeLiftKey != "" {
		cfg.RopeLiftKey = keymap.NameToUsage(pc.RopeLiftKey)
	}
	if pc.DiagonalMovementKey != "" {
		cfg.DiagonalMovementKey = keymap.NameToUsage(pc.DiagonalMovementKey)
	}
	if pc.YAxisJumpSkill != "" {
		cfg.YAxisJumpSkill = keymap.NameToUsage(pc.YAxisJumpSkill)
	}
	if pc.TeleportSkill != "" {
		cfg.TeleportSkill = keymap.NameToUsage(pc.TeleportSkill)
	}
	if pc.DoubleJumpUpAllowed != nil {
		cfg.DoubleJumpUpAllowed = *pc.DoubleJumpUpAllowed
	}
	return cfg
}
