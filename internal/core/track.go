package core

import "strings"

// TrackKind enumerates the three track types the pipeline reasons about.
type TrackKind string

const (
	Video     TrackKind = "video"
	Audio     TrackKind = "audio"
	Subtitles TrackKind = "subtitles"
)

// Track is identity within a source container. It is immutable once
// constructed by Extraction; nothing past that stage mutates it in place.
type Track struct {
	Source   string // e.g. "Source 1", "Source 2", "External"
	ID       int    // container-assigned track id from the probe
	Kind     TrackKind
	CodecID  string // opaque string from the probe, e.g. "A_FLAC"
	Language string // BCP-47 or legacy 3-letter tag as reported by the probe
	Name     string
}

// IsLossless reports whether CodecID names a codec that cannot accumulate
// resampling artifacts the way a lossy codec would — used to pick stricter
// or looser drift-detection thresholds.
func (t Track) IsLossless() bool {
	switch t.CodecID {
	case "A_FLAC", "A_PCM/INT/LIT", "A_PCM/INT/BIG", "A_TRUEHD", "A_MLP", "A_PCM/FLOAT/IEEE":
		return true
	default:
		return false
	}
}

func (t Track) IsDialogNormCodec() bool {
	cid := strings.ToUpper(t.CodecID)
	return strings.Contains(cid, "AC3") || strings.Contains(cid, "EAC3")
}
