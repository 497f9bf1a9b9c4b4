package subtitles

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/pretty"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

// RoundingMode is the configured float-ms -> format-resolution rounding
//. It is applied exactly once, here.
type RoundingMode string

const (
	RoundFloor RoundingMode = "floor"
	RoundHalf  RoundingMode = "round"
	RoundCeil  RoundingMode = "ceil"
)

func applyRounding(rawMs float64, unitMs float64, mode RoundingMode) int64 {
	units := rawMs / unitMs
	switch mode {
	case RoundFloor:
		return int64(math.Floor(units))
	case RoundCeil:
		return int64(math.Ceil(units))
	default:
		return int64(math.Round(units))
	}
}

// sideFile is the JSON capture of every event field, written for auditors
// and debugging.
type sideFile struct {
	SourcePath     string  `json:"source_path"`
	Format         string  `json:"format"`
	NegativeStarts int     `json:"negative_starts"`
	MinStartMs     float64 `json:"min_start_ms"`
	Events         []Event `json:"events"`
}

// WriteJSON persists the overlay side-file with raw (pre-rounding)
// timestamps.
func (f *File) WriteJSON(path string) error {
	data, err := json.Marshal(sideFile{
		SourcePath:     f.Path,
		Format:         f.Format,
		NegativeStarts: f.NegativeStarts,
		MinStartMs:     f.MinStartMs,
		Events:         f.Events,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, pretty.Pretty(data), 0o644)
}

// MarshalJSON exports raw timestamps with full float precision.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias struct {
		StartMs   float64 `json:"start_ms"`
		EndMs     float64 `json:"end_ms"`
		Style     string  `json:"style"`
		Text      string  `json:"text"`
		IsComment bool    `json:"is_comment"`
	}
	return json.Marshal(alias{e.StartMs, e.EndMs, e.StyleName, e.Text, e.IsComment})
}

// Write rounds every event time to the output format's resolution per the
// configured mode, clamps negatives at zero, and serializes. convertToASS forces the ASS format regardless of input format.
func (f *File) Write(outPath string, mode RoundingMode, convertToASS bool) error {
	format := f.Format
	if convertToASS {
		format = "ass"
		outPath = strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".ass"
	}

	// ASS stores centiseconds, SRT milliseconds.
	unitMs := 1.0
	if format == "ass" || format == "ssa" {
		unitMs = 10.0
	}

	for i, item := range f.subs.Items {
		ev := f.Events[i]
		startMs, endMs := ev.StartMs, ev.EndMs
		if startMs < 0 {
			startMs = 0
		}
		if endMs < 0 {
			endMs = 0
		}
		startUnits := applyRounding(startMs, unitMs, mode)
		endUnits := applyRounding(endMs, unitMs, mode)
		item.StartAt = time.Duration(startUnits) * time.Duration(unitMs*float64(time.Millisecond))
		item.EndAt = time.Duration(endUnits) * time.Duration(unitMs*float64(time.Millisecond))
	}

	switch format {
	case "ass", "ssa":
		out, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outPath, err)
		}
		defer out.Close()
		if err := f.subs.WriteToSSA(out); err != nil {
			return fmt.Errorf("serializing %s: %w", outPath, err)
		}
		return out.Close()
	case "srt":
		return f.subs.Write(outPath)
	default:
		return fmt.Errorf("unsupported subtitle output format %q", format)
	}
}

// SideFilePath derives the per-track JSON path under the job temp tree.
func SideFilePath(job *core.Job, trackID int) string {
	return core.SubtitleJSONPath(job.TempDir, trackID)
}
