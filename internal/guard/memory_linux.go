//go:build linux

package guard

import "golang.org/x/sys/unix"

// sysMemory reports total and reclaimable system memory in bytes via
// sysinfo. Buffers count as reclaimable; the kernel drops them under
// pressure before anything swaps.
func sysMemory() (total, avail uint64, ok bool) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, 0, false
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	total = uint64(si.Totalram) * unit
	avail = (uint64(si.Freeram) + uint64(si.Bufferram)) * unit
	return total, avail, true
}
