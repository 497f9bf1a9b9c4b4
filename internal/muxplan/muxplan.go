// Package muxplan builds the ordered token stream the external muxer
// consumes via its response-file convention.
package muxplan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/langtag"
)

// Build produces the full token stream for one job and stores it on
// job.MuxTokens.
func Build(job *core.Job) error {
	s := job.Settings
	var tokens []string

	// Global prefix flags.
	if job.ChaptersXML != "" {
		tokens = append(tokens, "--chapters", job.ChaptersXML)
	}
	if s.DisableTrackStatisticsTags {
		tokens = append(tokens, "--disable-track-statistics-tags")
	}

	items := Reorder(job.PlanItems)

	// Per-item flags, exactly one default per track type.
	defaultDone := map[core.TrackKind]bool{}
	forcedDone := false
	for _, item := range items {
		tokens = append(tokens, "--language", "0:"+langtag.ToIETF(item.Track.Language))

		if name, ok := trackName(item); ok {
			tokens = append(tokens, "--track-name", "0:"+name)
		}

		sync := EffectiveSync(job, item)
		tokens = append(tokens, "--sync", fmt.Sprintf("0:%+d", sync))

		tokens = append(tokens, "--default-track-flag", "0:"+yesNo(isDefault(item, defaultDone)))

		if item.Track.Kind == core.Subtitles && item.IsForcedDisplay && !forcedDone {
			tokens = append(tokens, "--forced-display-flag", "0:yes")
			forcedDone = true
		}

		if s.DisableHeaderCompression {
			tokens = append(tokens, "--compression", "0:none")
		}
		if s.ApplyDialogNormGain && item.Track.IsDialogNormCodec() {
			tokens = append(tokens, "--remove-dialog-normalization-gain", "0")
		}

		tokens = append(tokens, "(", item.ExtractedPath, ")")
	}

	// Attachments and track order.
	for _, att := range job.Attachments {
		tokens = append(tokens, "--attach-file", att)
	}
	order := make([]string, len(items))
	for i := range items {
		order[i] = fmt.Sprintf("%d:0", i)
	}
	tokens = append(tokens, "--track-order", strings.Join(order, ","))

	job.MuxTokens = tokens
	job.Handler.UpdateProgress("Mux", 1, 2, "mux plan built")
	return nil
}

// Reorder splits items into non-preserved and preserved lists and inserts
// the preserved list immediately after the last non-preserved audio item,
// or at the end when no audio exists.
func Reorder(items []core.PlanItem) []core.PlanItem {
	var regular, preserved []core.PlanItem
	for _, it := range items {
		if it.IsPreserved {
			preserved = append(preserved, it)
		} else {
			regular = append(regular, it)
		}
	}
	if len(preserved) == 0 {
		return regular
	}

	lastAudio := -1
	for i, it := range regular {
		if it.Track.Kind == core.Audio {
			lastAudio = i
		}
	}
	if lastAudio == -1 {
		return append(regular, preserved...)
	}

	out := make([]core.PlanItem, 0, len(items))
	out = append(out, regular[:lastAudio+1]...)
	out = append(out, preserved...)
	out = append(out, regular[lastAudio+1:]...)
	return out
}

// EffectiveSync computes the per-item sync flag value.
func EffectiveSync(job *core.Job, item core.PlanItem) int {
	// Source 1 non-subtitle tracks keep their container-declared offset,
	// lifted by the global shift when one was applied.
	if item.Track.Source == "Source 1" && item.Track.Kind != core.Subtitles {
		return item.ContainerDelayMs + job.Delays.GlobalShiftMs
	}
	if item.Track.Source == "Source 1" && item.Track.Kind == core.Subtitles {
		return job.Delays.GlobalShiftMs
	}

	// Subtitle items whose event timestamps already carry the shift get no
	// container-level sync on top.
	if item.Track.Kind == core.Subtitles && (item.SteppingAdjusted || item.FrameAdjusted) {
		return 0
	}

	syncKey := item.Track.Source
	if item.Track.Kind == core.Subtitles && item.SyncTo != "" {
		syncKey = item.SyncTo
	}
	return job.Delays.SourceDelaysMs[syncKey] // zero when missing
}

// trackName resolves the optional --track-name flag: preserved and
// corrected items always carry their name, otherwise apply_track_name opts in.
func trackName(item core.PlanItem) (string, bool) {
	if item.IsPreserved || item.IsCorrected {
		return item.Track.Name, item.Track.Name != ""
	}
	if item.ApplyTrackName && item.Track.Name != "" {
		return item.Track.Name, true
	}
	return "", false
}

// isDefault yields yes for exactly one item per track type: the first
// video item, the first audio item flagged default, the first subtitle
// item flagged default.
func isDefault(item core.PlanItem, done map[core.TrackKind]bool) bool {
	if done[item.Track.Kind] || item.IsPreserved {
		return false
	}
	switch item.Track.Kind {
	case core.Video:
		done[core.Video] = true
		return true
	default:
		if item.IsDefault {
			done[item.Track.Kind] = true
			return true
		}
		return false
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// WriteResponseFile persists the token stream one argument per line
// and returns its path.
func WriteResponseFile(job *core.Job) (string, error) {
	path := filepath.Join(job.TempDir, "mux_options.txt")
	content := strings.Join(job.MuxTokens, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
