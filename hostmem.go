package main

import "runtime"

// memoryReader is the host memory introspection capability. ok is false when
// the host exposes no usable figures; the numbers are then meaningless.
type memoryReader interface {
	ReadMemory() (used, total, limit uint64, ok bool)
}

// hostMemoryReader reads the Go heap for usage figures and the platform for
// the physical-memory limit. Every path fails soft.
type hostMemoryReader struct{}

func (hostMemoryReader) ReadMemory() (uint64, uint64, uint64, bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0, 0, 0, false
	}

	limit := physicalMemoryBytes()
	if limit < ms.HeapSys {
		// No platform figure (or a bogus one); clamp so used <= total <= limit holds.
		limit = ms.HeapSys
	}
	return ms.HeapAlloc, ms.HeapSys, limit, true
}
