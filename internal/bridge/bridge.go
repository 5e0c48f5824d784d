//go:build linux

// Package bridge forwards keystrokes from a grabbed evdev keyboard to a
// USB HID gadget in real time, stripping configured hotkey chords before
// they reach the gadget and reacting to those chords locally instead.
// Grounded on msmacro/bridge.py's Bridge: the same arm-on-activation,
// act-on-release hotkey state machine, generalized from two fixed
// hotkeys (stop/record) to an arbitrary map of hotkey->label so any
// number of bridge-level commands can be wired without touching the
// read loop. The raw evdev input_event framing and the EVIOCGRAB ioctl
// code come from github.com/andrieee44/mylib/linux/input (its Event
// struct has the identical {Sec, Usec, Type, Code, Value} shape this
// package decoded by hand before), generalized from a press-counter
// read loop into a full event (type, code, value) decode.
package bridge

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/andrieee44/mylib/linux/input"
	"golang.org/x/sys/unix"

	"github.com/hidrelay/macrod/internal/hid"
	"github.com/hidrelay/macrod/internal/keymap"
	"github.com/hidrelay/macrod/internal/recorder"
)

const (
	evKey        = input.EV_KEY
	keyRepeat    = 2
	inputEventSz = 24 // sizeof(struct input_event) on 64-bit Linux
)

var eviocgrab = input.EVIOCGRAB()

// inputEvent is the decoded wire shape of struct input_event, aliased to
// mylib's Event so the Bridge's own decode logic and mylib's ioctl
// constants agree on field layout without a conversion step.
type inputEvent = input.Event

// eventSource is the minimal evdev device contract the Bridge reads from;
// Device implements it over a real character device, tests substitute a
// canned event feed.
type eventSource interface {
	readEvent() (inputEvent, error)
	Ungrab() error
	Close() error
}

// Device is the minimal evdev device contract the Bridge reads from.
type Device struct {
	f *os.File
}

// OpenDevice opens path for exclusive reading and, if grab is true,
// issues EVIOCGRAB so the kernel stops delivering these events to any
// other reader (X11, the console, etc) while the Bridge is active.
func OpenDevice(path string, grab bool) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open input device %s: %w", path, err)
	}
	d := &Device{f: f}
	if grab {
		if err := d.setGrab(1); err != nil {
			f.Close()
			return nil, fmt.Errorf("grab input device %s: %w", path, err)
		}
	}
	return d, nil
}

func (d *Device) setGrab(v int32) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), uintptr(eviocgrab), uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return errno
	}
	return nil
}

// Ungrab releases an exclusive grab taken by OpenDevice.
func (d *Device) Ungrab() error { return d.setGrab(0) }

// Close releases the device handle.
func (d *Device) Close() error { return d.f.Close() }

func (d *Device) readEvent() (inputEvent, error) {
	var buf [inputEventSz]byte
	if _, err := fullRead(d.f, buf[:]); err != nil {
		return inputEvent{}, err
	}
	var ev inputEvent
	ev.Sec = binary.LittleEndian.Uint64(buf[0:8])
	ev.Usec = binary.LittleEndian.Uint64(buf[8:16])
	ev.Type = binary.LittleEndian.Uint16(buf[16:18])
	ev.Code = binary.LittleEndian.Uint16(buf[18:20])
	ev.Value = int32(binary.LittleEndian.Uint32(buf[20:24]))
	return ev, nil
}

func fullRead(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Hotkey is a parsed MOD+KEY chord.
type Hotkey struct {
	ModECode, KeyECode int
	KeyUsage           uint8
}

func parseHotkey(spec string) (Hotkey, error) {
	mod, key, err := keymap.ParseHotkey(spec)
	if err != nil {
		return Hotkey{}, err
	}
	return Hotkey{ModECode: mod, KeyECode: key, KeyUsage: keymap.UsageFromECode(key)}, nil
}

// Bridge tracks the live modifier mask and held-usage set of a grabbed
// keyboard and forwards a filtered HID report on every event, holding
// back whichever configured hotkey chord is currently armed.
type Bridge struct {
	dev eventSource
	w   hid.Writer

	stop   Hotkey
	record Hotkey
	extra  map[string]Hotkey // label -> hotkey

	modmask uint8
	down    map[uint8]struct{}

	stopArmed   bool
	recordArmed bool
	armedExtra  string // label of the armed extra hotkey, "" if none
}

// Options configures a Bridge.
type Options struct {
	StopHotkey   string // default "LALT+Q"
	RecordHotkey string // default "LALT+R"
	Grab         bool
	ExtraHotkeys map[string]string // hotkey spec -> label, e.g. {"LALT+S": "CHOICE_SAVE"}
}

// New opens evdevPath (grabbing it if opts.Grab) and builds a Bridge that
// forwards to w.
func New(evdevPath string, w hid.Writer, opts Options) (*Bridge, error) {
	if opts.StopHotkey == "" {
		opts.StopHotkey = "LALT+Q"
	}
	if opts.RecordHotkey == "" {
		opts.RecordHotkey = "LALT+R"
	}
	dev, err := OpenDevice(evdevPath, opts.Grab)
	if err != nil {
		return nil, err
	}
	return newWithDevice(dev, w, opts)
}

func newWithDevice(dev eventSource, w hid.Writer, opts Options) (*Bridge, error) {
	stop, err := parseHotkey(opts.StopHotkey)
	if err != nil {
		dev.Close()
		return nil, err
	}
	rec, err := parseHotkey(opts.RecordHotkey)
	if err != nil {
		dev.Close()
		return nil, err
	}
	b := &Bridge{
		dev:    dev,
		w:      w,
		stop:   stop,
		record: rec,
		extra:  make(map[string]Hotkey),
		down:   make(map[uint8]struct{}),
	}
	for spec, label := range opts.ExtraHotkeys {
		hk, err := parseHotkey(spec)
		if err != nil {
			dev.Close()
			return nil, err
		}
		b.extra[label] = hk
	}
	return b, nil
}

func (b *Bridge) hotActive(hk Hotkey) bool {
	_, held := b.down[hk.KeyUsage]
	return (b.modmask&keymap.ModBit(hk.ModECode)) != 0 && held
}

// extraActive returns the label of the first configured extra hotkey
// that is currently active, or "" if none are.
func (b *Bridge) extraActive() string {
	for label, hk := range b.extra {
		if b.hotActive(hk) {
			return label
		}
	}
	return ""
}

// sendFiltered builds the outgoing report from the current mask/key set
// minus whichever chord is presently active, so the armed chord never
// reaches the target: chord stripping happens before the report is
// built.
func (b *Bridge) sendFiltered() error {
	keys := make(map[uint8]struct{}, len(b.down))
	for k := range b.down {
		keys[k] = struct{}{}
	}
	mask := b.modmask
	strip := func(hk Hotkey) {
		if b.hotActive(hk) {
			delete(keys, hk.KeyUsage)
			mask &^= keymap.ModBit(hk.ModECode)
		}
	}
	strip(b.stop)
	strip(b.record)
	for _, hk := range b.extra {
		strip(hk)
	}
	return b.w.Send(mask, keys)
}

func (b *Bridge) applyEvent(code int, down bool) {
	if keymap.IsModifier(code) {
		bit := keymap.ModBit(code)
		if down {
			b.modmask |= bit
		} else {
			b.modmask &^= bit
		}
		return
	}
	usage := keymap.UsageFromECode(code)
	if usage == 0 {
		return
	}
	if down {
		b.down[usage] = struct{}{}
	} else {
		delete(b.down, usage)
	}
}

// Run reads events until the stop hotkey, the record hotkey, or a
// configured extra hotkey is released while armed, returning the
// resulting label ("STOP", "RECORD", or an extra's label). The target
// never observes the winning chord.
func (b *Bridge) Run() (string, error) {
	defer b.cleanup()
	for {
		ev, err := b.dev.readEvent()
		if err != nil {
			return "", err
		}
		if ev.Type != evKey || ev.Value == keyRepeat {
			continue
		}
		code := int(ev.Code)
		isDown := ev.Value == 1

		stopPrev := b.hotActive(b.stop)
		recPrev := b.hotActive(b.record)
		extraPrev := b.extraActive()

		b.applyEvent(code, isDown)

		stopCurr := b.hotActive(b.stop)
		recCurr := b.hotActive(b.record)
		extraCurr := b.extraActive()

		if !b.stopArmed && !stopPrev && stopCurr {
			b.stopArmed = true
			b.sendFiltered()
			continue
		}
		if b.stopArmed && !stopCurr && !isDown && (code == b.stop.ModECode || code == b.stop.KeyECode) {
			return "STOP", nil
		}

		if !b.recordArmed && !recPrev && recCurr {
			b.recordArmed = true
			b.sendFiltered()
			continue
		}
		if b.recordArmed && !recCurr && !isDown && (code == b.record.ModECode || code == b.record.KeyECode) {
			return "RECORD", nil
		}

		if b.armedExtra == "" && extraPrev == "" && extraCurr != "" {
			b.armedExtra = extraCurr
			b.sendFiltered()
			continue
		}
		if b.armedExtra != "" && extraCurr == "" && !isDown {
			hk := b.extra[b.armedExtra]
			if code == hk.ModECode || code == hk.KeyECode {
				label := b.armedExtra
				return label, nil
			}
		}

		b.sendFiltered()
	}
}

// RunRecord is identical to Run except it feeds every non-modifier,
// non-chord-active down/up into rec and terminates (returning its
// collected actions) only on the stop hotkey's release, never on
// record/extra hotkeys.
func (b *Bridge) RunRecord(rec *recorder.Recorder, nowSeconds func() float64) ([]recorder.Action, error) {
	defer b.cleanup()
	for {
		ev, err := b.dev.readEvent()
		if err != nil {
			return nil, err
		}
		if ev.Type != evKey || ev.Value == keyRepeat {
			continue
		}
		code := int(ev.Code)
		isDown := ev.Value == 1

		stopPrev := b.hotActive(b.stop)

		b.applyEvent(code, isDown)

		stopCurr := b.hotActive(b.stop)

		if !b.hotActive(b.stop) && !b.hotActive(b.record) && !keymap.IsModifier(code) {
			usage := keymap.UsageFromECode(code)
			if usage != 0 {
				now := nowSeconds()
				if isDown {
					rec.OnDown(usage, now)
				} else {
					rec.OnUp(usage, now)
				}
			}
		}

		if !b.stopArmed && !stopPrev && stopCurr {
			b.stopArmed = true
			b.sendFiltered()
			continue
		}
		if b.stopArmed && !stopCurr && !isDown && (code == b.stop.ModECode || code == b.stop.KeyECode) {
			break
		}

		b.sendFiltered()
	}
	now := nowSeconds()
	rec.Finalize(&now)
	return rec.Actions, nil
}

func (b *Bridge) cleanup() {
	b.dev.Ungrab()
	b.dev.Close()
	b.w.AllUp()
}

// Interrupt force-closes the grabbed device to unblock a Run/RunRecord
// call that is currently parked in a blocking read, e.g. when an IPC
// command or a timeout wins a "first arrives wins" race against a
// pending hotkey choice. The pending call returns with a read error;
// cleanup still releases the grab.
func (b *Bridge) Interrupt() {
	b.dev.Close()
}
