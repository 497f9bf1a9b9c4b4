package subtitles

import (
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

// ApplySteppingEDL shifts each event by the delay of the EDL segment
// covering its start time, preserving intra-segment durations. rawGlobalShiftMs is folded in because the EDL's raw delays predate
// the global shift while stepping-adjusted tracks bypass the mux-level
// sync entirely. Returns true iff any event moved by a non-zero amount —
// a zero-offset application must not block the mux stage from applying a
// per-track sync.
func (f *File) ApplySteppingEDL(edl core.EDL, rawGlobalShiftMs float64) bool {
	if len(edl) == 0 {
		return false
	}
	moved := false
	for i := range f.Events {
		seg, _ := edl.DelayAt(f.Events[i].StartMs / 1000)
		offset := seg.DelayRawMs + rawGlobalShiftMs
		if offset == 0 {
			continue
		}
		f.Events[i].StartMs += offset
		f.Events[i].EndMs += offset
		moved = true
	}
	return moved
}

// ApplyOffset adds a uniform raw-ms offset to every event.
// Events whose start goes negative are counted for the auditor; they are
// clamped at write time, not here, so the raw value survives for the
// report.
func (f *File) ApplyOffset(offsetMs float64) {
	if offsetMs == 0 {
		return
	}
	for i := range f.Events {
		f.Events[i].StartMs += offsetMs
		f.Events[i].EndMs += offsetMs
		if f.Events[i].StartMs < 0 {
			f.NegativeStarts++
			if f.Events[i].StartMs < f.MinStartMs {
				f.MinStartMs = f.Events[i].StartMs
			}
		}
	}
}
