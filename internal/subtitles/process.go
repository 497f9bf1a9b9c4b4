package subtitles

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/pkg/media"
)

// Run processes every subtitle PlanItem in order: load,
// style filter, stepping EDL, sync-mode offset, style transforms, format
// conversion, persist.
func Run(ctx context.Context, job *core.Job) error {
	log := job.Handler.ZeroLog()

	var subtitleItems []*core.PlanItem
	for i := range job.PlanItems {
		if job.PlanItems[i].Track.Kind == core.Subtitles {
			subtitleItems = append(subtitleItems, &job.PlanItems[i])
		}
	}
	if len(subtitleItems) == 0 {
		job.Handler.UpdateProgress("Subtitles", 1, 1, "no subtitle tracks")
		return nil
	}

	// The reference video dimensions serve every rescale request; read
	// them once.
	var videoW, videoH int
	if needRescale(subtitleItems) {
		var err error
		videoW, videoH, err = media.GetVideoDimensions(ctx, job.Spec.SourceFiles["Source 1"], 0)
		if err != nil {
			log.Warn().Err(err).Msg("reference dimensions unavailable, rescale skipped")
		}
	}

	for n, item := range subtitleItems {
		if job.Handler.Cancelled() {
			return core.NewCancelError("Subtitles")
		}
		if err := processTrack(ctx, job, item, videoW, videoH); err != nil {
			return core.NewStageError("Subtitles", core.AbortTask, err,
				map[string]interface{}{"source": item.Track.Source, "track": item.Track.ID})
		}
		job.Handler.UpdateProgress("Subtitles", n+1, len(subtitleItems),
			fmt.Sprintf("processed track %d", item.Track.ID))
	}
	return nil
}

func needRescale(items []*core.PlanItem) bool {
	for _, it := range items {
		if it.Rescale {
			return true
		}
	}
	return false
}

func processTrack(ctx context.Context, job *core.Job, item *core.PlanItem, videoW, videoH int) error {
	s := job.Settings
	log := job.Handler.ZeroLog()

	f, err := Open(item.ExtractedPath, log)
	if err != nil {
		return err
	}

	// Generated tracks filter events by style.
	f.ApplyStyleFilter(item.Filter, log)

	// Stepping EDL, when this item's source was stepped.
	steppingMoved := false
	if s.SteppingAdjustSubtitles {
		if edl, ok := job.SteppingEDLs[item.Track.Source]; ok {
			steppingMoved = f.ApplySteppingEDL(edl, job.Delays.RawGlobalShiftMs)
			item.SteppingAdjusted = steppingMoved
		}
	}

	// Sync-mode offset, unless stepping already moved events.
	if !steppingMoved {
		offset := resolveSyncOffset(job, item)
		f.ApplyOffset(offset)
		if f.NegativeStarts > 0 {
			log.Warn().Int("events", f.NegativeStarts).Float64("min_start_ms", f.MinStartMs).
				Msg("events pushed negative will be clamped to 0 on write")
		}
	}

	// Style transforms, order matters: fonts, patches, rescale, size.
	f.ReplaceFonts(item.FontReplacements)
	f.ApplyStylePatches(item.StylePatches, log)
	if item.Rescale {
		f.Rescale(videoW, videoH)
	}
	f.MultiplyFontSize(item.SizeMultiplier)

	// JSON side-file first, then the display format.
	if err := f.WriteJSON(SideFilePath(job, item.Track.ID)); err != nil {
		return err
	}

	outPath := processedPath(item.ExtractedPath)
	convert := item.ConvertToASS && f.Format == "srt"
	if err := f.Write(outPath, RoundingMode(s.SubtitleRounding), convert); err != nil {
		return err
	}
	if convert {
		outPath = strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".ass"
		item.Track.CodecID = "S_TEXT/ASS"
	}
	item.ExtractedPath = outPath
	return nil
}

// resolveSyncOffset computes the raw-ms offset the sync mode demands for
// one subtitle item. Events carry the shift directly, so
// the mux stage will emit sync 0 for stepping-adjusted items;
// everything else keeps delays at the container level and gets 0 here.
// Only modes that move event timestamps return non-zero:
//   - "simple": events stay put, mux --sync carries the source delay.
//   - "events": bake the raw per-source delay into event times (used for
//     formats whose container sync handling is unreliable downstream).
//   - "video-verified": like events, but prefer the videodiff-derived
//     delay when one was measured.
func resolveSyncOffset(job *core.Job, item *core.PlanItem) float64 {
	syncKey := item.Track.Source
	if item.SyncTo != "" {
		syncKey = item.SyncTo
	}
	if syncKey == "Source 1" {
		return 0
	}

	switch job.Settings.SubtitleSyncMode {
	case "events":
		item.FrameAdjusted = true
		return job.Delays.RawSourceDelaysMs[syncKey]
	case "video-verified":
		item.FrameAdjusted = true
		if d, ok := job.VideoDiffDelays[syncKey]; ok {
			return d + job.Delays.RawGlobalShiftMs
		}
		return job.Delays.RawSourceDelaysMs[syncKey]
	default: // "simple": the mux-level --sync flag carries the delay
		return 0
	}
}

func processedPath(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + "_processed" + ext
}
