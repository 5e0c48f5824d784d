// Package detector implements minimap object detection: locating the
// player's yellow marker and any red other-player markers inside a
// cropped minimap frame via HSV colour masking, morphological
// cleanup, connected-component blob extraction, and multi-stage
// filtering (size, circularity, aspect ratio, optional contrast).
//
// Grounded on msmacro/cv/object_detection.py's MinimapObjectDetector.
// No CV library exists anywhere in the retrieval pack (DESIGN.md
// records the grep that confirmed this), so the pipeline is built on
// image/color and math; golang.org/x/image/draw is used upstream of it,
// for the optional downscale in internal/capture.
package detector

import (
	"image"
	"math"
	"sync"
	"time"
)

// HSVRange is an inclusive HSV bounding box using OpenCV's scale
// (H: 0-179, S/V: 0-255), matching the calibrated ranges baked into
// msmacro's DetectorConfig.
type HSVRange struct {
	HLow, SLow, VLow    uint8
	HHigh, SHigh, VHigh uint8
}

func (r HSVRange) contains(h, s, v uint8) bool {
	if h < r.HLow || h > r.HHigh {
		return false
	}
	if s < r.SLow || s > r.SHigh {
		return false
	}
	if v < r.VLow || v > r.VHigh {
		return false
	}
	return true
}

// Config holds the calibrated detection thresholds. Field names and
// defaults mirror msmacro.cv.object_detection.DetectorConfig.
type Config struct {
	PlayerHSV      HSVRange   `json:"player_hsv" yaml:"player_hsv"`
	OtherPlayerHSV []HSVRange `json:"other_player_hsv_ranges" yaml:"other_player_hsv_ranges"`

	MinBlobSize         int     `json:"min_blob_size" yaml:"min_blob_size"`
	MaxBlobSize         int     `json:"max_blob_size" yaml:"max_blob_size"`
	MinBlobSizeOther    int     `json:"min_blob_size_other" yaml:"min_blob_size_other"`
	MaxBlobSizeOther    int     `json:"max_blob_size_other" yaml:"max_blob_size_other"`
	MinCircularity      float64 `json:"min_circularity" yaml:"min_circularity"`
	MinCircularityOther float64 `json:"min_circularity_other" yaml:"min_circularity_other"`

	MinAspectRatio float64 `json:"min_aspect_ratio" yaml:"min_aspect_ratio"`
	MaxAspectRatio float64 `json:"max_aspect_ratio" yaml:"max_aspect_ratio"`

	EnableContrastValidation bool    `json:"enable_contrast_validation" yaml:"enable_contrast_validation"`
	MinContrastRatio         float64 `json:"min_contrast_ratio" yaml:"min_contrast_ratio"`

	TemporalSmoothing bool    `json:"temporal_smoothing" yaml:"temporal_smoothing"`
	SmoothingAlpha    float64 `json:"smoothing_alpha" yaml:"smoothing_alpha"`
}

// DefaultConfig reproduces msmacro's calibrated Option-C defaults.
func DefaultConfig() Config {
	return Config{
		PlayerHSV: HSVRange{HLow: 20, SLow: 180, VLow: 180, HHigh: 40, SHigh: 255, VHigh: 255},
		OtherPlayerHSV: []HSVRange{
			{HLow: 0, SLow: 100, VLow: 100, HHigh: 10, SHigh: 255, VHigh: 255},
			{HLow: 165, SLow: 100, VLow: 100, HHigh: 179, SHigh: 255, VHigh: 255},
		},
		MinBlobSize:         4,
		MaxBlobSize:         16,
		MinBlobSizeOther:    4,
		MaxBlobSizeOther:    80,
		MinCircularity:      0.71,
		MinCircularityOther: 0.65,
		MinAspectRatio:      0.5,
		MaxAspectRatio:      2.0,
		MinContrastRatio:    1.15,
		TemporalSmoothing:   true,
		SmoothingAlpha:      0.3,
	}
}

// PlayerPosition is the detected player marker, relative to the
// minimap crop's top-left corner.
type PlayerPosition struct {
	Detected   bool    `json:"detected"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Confidence float64 `json:"confidence"`
}

// OtherPlayersStatus summarises every red marker found this frame.
type OtherPlayersStatus struct {
	Detected  bool          `json:"detected"`
	Count     int           `json:"count"`
	Positions []image.Point `json:"positions"`
}

// Result is one detect() call's output.
type Result struct {
	Player       PlayerPosition     `json:"player"`
	OtherPlayers OtherPlayersStatus `json:"other_players"`
	Timestamp    float64            `json:"timestamp"`
}

// PerformanceStats mirrors get_performance_stats()'s avg/max/min/count.
type PerformanceStats struct {
	AvgMS float64 `json:"avg_ms"`
	MaxMS float64 `json:"max_ms"`
	MinMS float64 `json:"min_ms"`
	Count int     `json:"count"`
}

// Detector runs the detection pipeline against minimap frames and
// tracks its own performance statistics.
type Detector struct {
	mu     sync.Mutex
	config Config

	lastPlayerPos *image.Point

	count      int
	totalMS    float64
	maxMS      float64
	minMS      float64
	slowWarnMS float64
	onSlow     func(elapsedMS float64)
}

// New builds a Detector using cfg (pass DefaultConfig() for the
// calibrated defaults).
func New(cfg Config) *Detector {
	return &Detector{config: cfg, minMS: math.Inf(1), slowWarnMS: 15.0}
}

// OnSlowDetection registers a callback invoked whenever one Detect call
// exceeds the 15ms target budget (YUYV capture on constrained hardware).
func (d *Detector) OnSlowDetection(fn func(elapsedMS float64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSlow = fn
}

// Config returns a copy of the active configuration.
func (d *Detector) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// SetConfig swaps the active configuration (e.g. after cv_reload_config).
func (d *Detector) SetConfig(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = cfg
}

// Detect runs the full pipeline over img, which must already be
// cropped to the minimap region; coordinates in the result are
// relative to img's top-left corner.
func (d *Detector) Detect(img image.Image) Result {
	start := time.Now()
	d.mu.Lock()
	cfg := d.config
	d.mu.Unlock()

	bounds := img.Bounds()
	hsv := toHSV(img)

	player := d.detectPlayer(hsv, bounds, cfg)
	other := detectOtherPlayers(hsv, bounds, cfg)

	elapsedMS := float64(time.Since(start)) / float64(time.Millisecond)
	d.mu.Lock()
	d.count++
	d.totalMS += elapsedMS
	if elapsedMS > d.maxMS {
		d.maxMS = elapsedMS
	}
	if elapsedMS < d.minMS {
		d.minMS = elapsedMS
	}
	cb := d.onSlow
	slow := elapsedMS > d.slowWarnMS
	d.mu.Unlock()
	if slow && cb != nil {
		cb(elapsedMS)
	}

	return Result{Player: player, OtherPlayers: other, Timestamp: float64(time.Now().UnixNano()) / 1e9}
}

// PerformanceStats returns the running avg/max/min/count over every
// Detect call so far.
func (d *Detector) PerformanceStats() PerformanceStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count == 0 {
		return PerformanceStats{}
	}
	min := d.minMS
	if math.IsInf(min, 1) {
		min = 0
	}
	return PerformanceStats{AvgMS: d.totalMS / float64(d.count), MaxMS: d.maxMS, MinMS: min, Count: d.count}
}

// ResetPerformanceStats zeroes the running counters.
func (d *Detector) ResetPerformanceStats() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totalMS = 0
	d.maxMS = 0
	d.minMS = math.Inf(1)
	d.count = 0
}

// hsvPixel is a single decoded HSV sample on OpenCV's 0-179/0-255 scale.
type hsvPixel struct{ H, S, V uint8 }

type hsvImage struct {
	w, h int
	px   []hsvPixel
}

func (im *hsvImage) at(x, y int) hsvPixel { return im.px[y*im.w+x] }

func toHSV(img image.Image) *hsvImage {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := &hsvImage{w: w, h: h, px: make([]hsvPixel, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.px[y*w+x] = rgbToHSV(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}
	return out
}

// rgbToHSV converts 8-bit RGB to OpenCV-scale HSV (H in [0,179]).
func rgbToHSV(r, g, b uint8) hsvPixel {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	maxC := math.Max(rf, math.Max(gf, bf))
	minC := math.Min(rf, math.Min(gf, bf))
	delta := maxC - minC

	var h float64
	switch {
	case delta == 0:
		h = 0
	case maxC == rf:
		h = 60 * math.Mod((gf-bf)/delta, 6)
	case maxC == gf:
		h = 60 * ((bf-rf)/delta + 2)
	default:
		h = 60 * ((rf-gf)/delta + 4)
	}
	if h < 0 {
		h += 360
	}

	var s float64
	if maxC > 0 {
		s = delta / maxC
	}
	v := maxC

	return hsvPixel{
		H: uint8(h / 2), // 0-360 -> 0-179
		S: uint8(s * 255),
		V: uint8(v * 255),
	}
}

// binaryMask is a packed w*h boolean grid.
type binaryMask struct {
	w, h int
	bits []bool
}

func newMask(w, h int) *binaryMask { return &binaryMask{w: w, h: h, bits: make([]bool, w*h)} }

func (m *binaryMask) at(x, y int) bool {
	if x < 0 || y < 0 || x >= m.w || y >= m.h {
		return false
	}
	return m.bits[y*m.w+x]
}

func (m *binaryMask) set(x, y int, v bool) { m.bits[y*m.w+x] = v }

func colorMask(hsv *hsvImage, ranges ...HSVRange) *binaryMask {
	m := newMask(hsv.w, hsv.h)
	for y := 0; y < hsv.h; y++ {
		for x := 0; x < hsv.w; x++ {
			p := hsv.at(x, y)
			for _, r := range ranges {
				if r.contains(p.H, p.S, p.V) {
					m.set(x, y, true)
					break
				}
			}
		}
	}
	return morphClean(m, 4)
}

// morphClean runs an open (erode-then-dilate) followed by a close
// (dilate-then-erode) with a kernel x kernel square structuring
// element anchored at (kernel/2, kernel/2), matching msmacro's
// 4x4-kernel noise cleanup.
func morphClean(m *binaryMask, kernel int) *binaryMask {
	return erode(dilate(dilate(erode(m, kernel), kernel), kernel), kernel)
}

func erode(m *binaryMask, kernel int) *binaryMask {
	out := newMask(m.w, m.h)
	lo, hi := -(kernel / 2), kernel-1-kernel/2
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			all := true
			for dy := lo; dy <= hi && all; dy++ {
				for dx := lo; dx <= hi; dx++ {
					if !m.at(x+dx, y+dy) {
						all = false
						break
					}
				}
			}
			out.set(x, y, all)
		}
	}
	return out
}

func dilate(m *binaryMask, kernel int) *binaryMask {
	out := newMask(m.w, m.h)
	lo, hi := -(kernel / 2), kernel-1-kernel/2
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			any := false
			for dy := lo; dy <= hi && !any; dy++ {
				for dx := lo; dx <= hi; dx++ {
					if m.at(x+dx, y+dy) {
						any = true
						break
					}
				}
			}
			out.set(x, y, any)
		}
	}
	return out
}

// blob is one connected component surviving size/shape filtering.
type blob struct {
	center      image.Point
	radius      float64
	diameter    float64
	circularity float64
	area        float64
	aspectRatio float64
	saturation  int
	value       int
}

// findBlobs labels 8-connected components in mask, then filters them
// by size (approximated diameter from area), circularity (4*pi*area /
// boundary-perimeter^2), and aspect ratio of the bounding box.
// Perimeter is approximated as the count of component pixels touching
// a non-component 4-neighbour; this tracks true contour length closely
// enough for the calibrated circularity thresholds.
func findBlobs(mask *binaryMask, hsv *hsvImage, minSize, maxSize int, minCircularity float64, aspectMin, aspectMax float64) []blob {
	visited := make([]bool, mask.w*mask.h)
	var blobs []blob

	for y := 0; y < mask.h; y++ {
		for x := 0; x < mask.w; x++ {
			idx := y*mask.w + x
			if visited[idx] || !mask.at(x, y) {
				continue
			}
			pts := floodFill(mask, visited, x, y)
			area := float64(len(pts))
			if area == 0 {
				continue
			}

			perimeter := 0
			minX, minY, maxX, maxY := pts[0].X, pts[0].Y, pts[0].X, pts[0].Y
			var sumX, sumY int
			for _, p := range pts {
				sumX += p.X
				sumY += p.Y
				if p.X < minX {
					minX = p.X
				}
				if p.X > maxX {
					maxX = p.X
				}
				if p.Y < minY {
					minY = p.Y
				}
				if p.Y > maxY {
					maxY = p.Y
				}
				if !mask.at(p.X-1, p.Y) || !mask.at(p.X+1, p.Y) || !mask.at(p.X, p.Y-1) || !mask.at(p.X, p.Y+1) {
					perimeter++
				}
			}
			if perimeter == 0 {
				continue
			}

			radius := math.Sqrt(area / math.Pi)
			diameter := radius * 2
			if diameter < float64(minSize) || diameter > float64(maxSize) {
				continue
			}

			circularity := 4 * math.Pi * area / float64(perimeter*perimeter)
			if circularity < minCircularity {
				continue
			}

			w := maxX - minX + 1
			h := maxY - minY + 1
			if h == 0 {
				continue
			}
			aspect := float64(w) / float64(h)
			if aspect < aspectMin || aspect > aspectMax {
				continue
			}

			cx := sumX / len(pts)
			cy := sumY / len(pts)

			sat, val := 255, 255
			if hsv != nil && cx >= 0 && cx < hsv.w && cy >= 0 && cy < hsv.h {
				p := hsv.at(cx, cy)
				sat, val = int(p.S), int(p.V)
			}

			blobs = append(blobs, blob{
				center:      image.Pt(cx, cy),
				radius:      radius,
				diameter:    diameter,
				circularity: circularity,
				area:        area,
				aspectRatio: aspect,
				saturation:  sat,
				value:       val,
			})
		}
	}
	return blobs
}

func floodFill(mask *binaryMask, visited []bool, sx, sy int) []image.Point {
	stack := []image.Point{{X: sx, Y: sy}}
	visited[sy*mask.w+sx] = true
	var pts []image.Point
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		pts = append(pts, p)
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				nx, ny := p.X+dx, p.Y+dy
				if nx < 0 || ny < 0 || nx >= mask.w || ny >= mask.h {
					continue
				}
				idx := ny*mask.w + nx
				if visited[idx] || !mask.at(nx, ny) {
					continue
				}
				visited[idx] = true
				stack = append(stack, image.Pt(nx, ny))
			}
		}
	}
	return pts
}

// sizeScore rewards diameters in [4,10]px, matching
// _calculate_size_score's preferred range.
func sizeScore(diameter, preferredMin, preferredMax float64) float64 {
	switch {
	case diameter >= preferredMin && diameter <= preferredMax:
		return 1.0
	case diameter < preferredMin:
		return math.Max(0.1, diameter/preferredMin)
	default:
		excess := diameter - preferredMax
		return math.Max(0.1, 1.0/(1.0+excess/preferredMax))
	}
}

func (d *Detector) detectPlayer(hsv *hsvImage, bounds image.Rectangle, cfg Config) PlayerPosition {
	mask := colorMask(hsv, cfg.PlayerHSV)
	blobs := findBlobs(mask, hsv, cfg.MinBlobSize, cfg.MaxBlobSize, cfg.MinCircularity, cfg.MinAspectRatio, cfg.MaxAspectRatio)
	if len(blobs) == 0 {
		d.mu.Lock()
		d.lastPlayerPos = nil
		d.mu.Unlock()
		return PlayerPosition{Detected: false}
	}

	best := blobs[0]
	bestScore := combinedScore(best)
	for _, b := range blobs[1:] {
		if s := combinedScore(b); s > bestScore {
			best, bestScore = b, s
		}
	}

	cx, cy := clampPosition(best.center.X, best.center.Y, bounds.Dx(), bounds.Dy(), 2)

	d.mu.Lock()
	if cfg.TemporalSmoothing && d.lastPlayerPos != nil {
		alpha := cfg.SmoothingAlpha
		cx = int(alpha*float64(cx) + (1-alpha)*float64(d.lastPlayerPos.X))
		cy = int(alpha*float64(cy) + (1-alpha)*float64(d.lastPlayerPos.Y))
	}
	pos := image.Pt(cx, cy)
	d.lastPlayerPos = &pos
	d.mu.Unlock()

	return PlayerPosition{Detected: true, X: cx, Y: cy, Confidence: best.circularity}
}

func combinedScore(b blob) float64 {
	return sizeScore(b.diameter, 4, 10) * float64(b.saturation) * float64(b.value) * b.circularity
}

func detectOtherPlayers(hsv *hsvImage, bounds image.Rectangle, cfg Config) OtherPlayersStatus {
	var all []blob
	for _, r := range cfg.OtherPlayerHSV {
		mask := colorMask(hsv, r)
		blobs := findBlobs(mask, hsv, cfg.MinBlobSizeOther, cfg.MaxBlobSizeOther, cfg.MinCircularityOther, cfg.MinAspectRatio, cfg.MaxAspectRatio)
		all = append(all, blobs...)
	}
	unique := deduplicateBlobs(all, 5)

	positions := make([]image.Point, 0, len(unique))
	for _, b := range unique {
		cx, cy := clampPosition(b.center.X, b.center.Y, bounds.Dx(), bounds.Dy(), 2)
		positions = append(positions, image.Pt(cx, cy))
	}

	return OtherPlayersStatus{Detected: len(unique) > 0, Count: len(unique), Positions: positions}
}

// deduplicateBlobs keeps the highest-circularity blob within each
// distanceThreshold cluster, matching _deduplicate_blobs.
func deduplicateBlobs(blobs []blob, distanceThreshold float64) []blob {
	if len(blobs) == 0 {
		return nil
	}
	sorted := append([]blob(nil), blobs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].circularity > sorted[j-1].circularity; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var unique []blob
	for _, b := range sorted {
		dup := false
		for _, u := range unique {
			dx := float64(b.center.X - u.center.X)
			dy := float64(b.center.Y - u.center.Y)
			if math.Hypot(dx, dy) < distanceThreshold {
				dup = true
				break
			}
		}
		if !dup {
			unique = append(unique, b)
		}
	}
	return unique
}

// clampPosition keeps a detected coordinate inside [margin, dim-margin)
// when possible, and inside [0,dim) always, matching
// _validate_and_clamp_position.
func clampPosition(x, y, width, height, margin int) (int, int) {
	if x < 0 {
		x = 0
	}
	if x >= width {
		x = width - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= height {
		y = height - 1
	}
	if width > 2*margin {
		if x < margin {
			x = margin
		}
		if x >= width-margin {
			x = width - margin - 1
		}
	}
	if height > 2*margin {
		if y < margin {
			y = margin
		}
		if y >= height-margin {
			y = height - margin - 1
		}
	}
	return x, y
}
