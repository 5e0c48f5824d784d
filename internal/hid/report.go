// Package hid serialises boot-protocol keyboard reports to a byte-writable
// endpoint (a USB-gadget /dev/hidg character device in production),
// handling disconnect/reconnect with a circuit breaker. Grounded on
// msmacro/io/hidio.py.
package hid

import "sort"

// Report is the fixed 8-byte boot-protocol tuple: [modmask, 0, k0..k5].
type Report [8]byte

// BuildReport packs a modifier mask and up to six non-modifier usages
// (sorted, extras truncated) into a boot-protocol report.
func BuildReport(modmask uint8, keys []uint8) Report {
	var r Report
	r[0] = modmask
	sorted := append([]uint8(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if len(sorted) > 6 {
		sorted = sorted[:6]
	}
	for i, k := range sorted {
		r[2+i] = k
	}
	return r
}

// Writer is the minimal HID endpoint contract the Player, Bridge, and
// Pathfinder dispatch through.
type Writer interface {
	Send(modmask uint8, keys map[uint8]struct{}) error
	AllUp() error
	Close() error
}
