package core

import (
	"strconv"

	"github.com/jinzhu/copier"
)

// StylePatch overrides a single field of a named ASS style.
type StylePatch struct {
	Style string
	Field string
	Value string
}

// SubtitleFilter configures a generated subtitle item: keep or
// drop events by style name.
type SubtitleFilter struct {
	Mode          string // "include" or "exclude"
	Styles        []string
	ForcedInclude []string
	ForcedExclude []string
}

// PlanItem is a track the user chose to include, with every per-track
// decision attached.
type PlanItem struct {
	Track Track

	ExtractedPath string

	IsDefault       bool
	IsForcedDisplay bool
	ApplyTrackName  bool
	ConvertToASS    bool
	Rescale         bool
	SizeMultiplier  float64

	StylePatches     []StylePatch
	FontReplacements map[string]string

	SyncTo string // which source's delay to track; used by external subtitles

	ContainerDelayMs int

	IsCorrected bool
	IsPreserved bool

	Filter *SubtitleFilter // non-nil only for generated tracks

	SteppingAdjusted bool // subtitle timestamps already shifted by EDL application
	FrameAdjusted    bool // timestamps already shifted by a frame-accurate correction
}

// Preserve returns a deep copy of p suitable for the "(Original)" sibling
// kept alongside a corrected replacement. jinzhu/copier is used
// rather than a hand-written field-by-field copy so new PlanItem fields stay
// safe by default — a bare struct literal copy would silently share the
// StylePatches/FontReplacements backing arrays.
func (p PlanItem) Preserve(suffix string) PlanItem {
	var out PlanItem
	if err := copier.CopyWithOption(&out, &p, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on unsupported types; PlanItem has none, so this
		// is unreachable in practice and kept only so the signature stays
		// copy-only (no error return threaded through every call site).
		out = p
	}
	out.IsPreserved = true
	out.IsCorrected = false
	out.Track.Name = p.Track.Name + suffix
	return out
}

// PairKey is the synthetic "{source}_{id}" handle used for every
// cross-reference into the flag maps; there are no parent/child pointers.
func (p PlanItem) PairKey() string {
	return pairKey(p.Track.Source, p.Track.ID)
}

func pairKey(source string, id int) string {
	return source + "_" + strconv.Itoa(id)
}
