// Package extraction demuxes the user-selected tracks to disk via the
// external extractor, reads container-level per-track delays, and verifies
// every expected output actually materialized.
package extraction

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/diagnostics"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/execwrap"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/pkg/media"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/probe"
)

// extByCodec maps probe codec ids to payload file extensions. Unknown
// codecs fall back to a generic ".bin" mkvextract still accepts on remux.
var extByCodec = map[string]string{
	"V_MPEG4/ISO/AVC":  "h264",
	"V_MPEGH/ISO/HEVC": "h265",
	"V_MPEG2":          "mpg",
	"V_VP9":            "vp9",
	"V_AV1":            "av1",
	"A_AAC":            "aac",
	"A_AC3":            "ac3",
	"A_EAC3":           "eac3",
	"A_DTS":            "dts",
	"A_TRUEHD":         "thd",
	"A_MLP":            "mlp",
	"A_FLAC":           "flac",
	"A_OPUS":           "opus",
	"A_VORBIS":         "ogg",
	"A_MPEG/L3":        "mp3",
	"A_MPEG/L2":        "mp2",
	"A_PCM/INT/LIT":    "wav",
	"A_PCM/INT/BIG":    "wav",
	"A_MS/ACM":         "wav",
	"S_TEXT/ASS":       "ass",
	"S_TEXT/SSA":       "ssa",
	"S_TEXT/UTF8":      "srt",
	"S_HDMV/PGS":       "sup",
	"S_VOBSUB":         "idx",
}

// ExtForCodec returns the payload extension for a codec id.
func ExtForCodec(codecID string) string {
	if ext, ok := extByCodec[codecID]; ok {
		return ext
	}
	return "bin"
}

// Run extracts every layout track of every source, populates
// job.PlanItems (order follows the layout), and records container delays
// and video aspect ratios. Generated subtitle tracks are realized as file
// copies here; their style filtering happens in the subtitle stage.
func Run(ctx context.Context, job *core.Job) error {
	log := job.Handler.ZeroLog()

	bySource := make(map[string][]core.LayoutItem)
	for _, li := range job.Spec.Layout {
		bySource[li.Source] = append(bySource[li.Source], li)
	}

	done := 0
	for _, source := range sourceOrder(job) {
		items := bySource[source]
		if len(items) == 0 {
			continue
		}
		if job.Handler.Cancelled() {
			return core.NewCancelError("Extraction")
		}
		path := job.Spec.SourceFiles[source]
		pr, err := probe.Run(ctx, job.Tools.Probe, path)
		if err != nil {
			return err
		}

		if err := recordContainerDelays(job, source, pr); err != nil {
			return err
		}

		planned, err := extractSource(ctx, job, source, path, pr, items)
		if err != nil {
			return err
		}
		job.PlanItems = append(job.PlanItems, planned...)

		done++
		job.Handler.UpdateProgress("Extraction", done, len(bySource), "extracted "+source)
		log.Debug().Str("source", source).Int("tracks", len(planned)).Msg("source extracted")
	}
	return nil
}

func sourceOrder(job *core.Job) []string {
	seen := make(map[string]bool)
	var out []string
	for _, li := range job.Spec.Layout {
		if !seen[li.Source] {
			seen[li.Source] = true
			out = append(out, li.Source)
		}
	}
	return out
}

// recordContainerDelays stores per-track container delays. For Source 1
// the video track's own delay is subtracted so audio delays are relative
// to the video timeline.
func recordContainerDelays(job *core.Job, source string, pr *probe.Result) error {
	info := core.NewContainerDelayInfo()
	if vids := pr.VideoTracks(); len(vids) > 0 {
		info.VideoDelayMs = vids[0].DelayMs()
	}
	for _, t := range pr.AudioTracks() {
		d := t.DelayMs()
		if source == "Source 1" {
			d -= info.VideoDelayMs
		}
		info.AudioDelaysMs[t.ID] = d
	}
	job.ContainerDelays[source] = info
	return nil
}

func extractSource(ctx context.Context, job *core.Job, source, path string, pr *probe.Result, items []core.LayoutItem) ([]core.PlanItem, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	type pending struct {
		layout  core.LayoutItem
		track   probe.TrackInfo
		outPath string
		acmWAV  bool
	}
	var batch []pending
	var specs []string

	for _, li := range items {
		t, ok := pr.TrackByID(li.TrackID)
		if !ok {
			return nil, failureReport(job, source, li.TrackID, "", path, "track id not present in container")
		}
		ext := ExtForCodec(t.Properties.CodecID)
		out := core.ExtractedTrackPath(job.TempDir, source, stem, t.ID, ext)
		p := pending{layout: li, track: t, outPath: out}
		if t.Properties.CodecID == "A_MS/ACM" {
			p.acmWAV = true
		} else {
			specs = append(specs, fmt.Sprintf("%d:%s", t.ID, out))
		}
		batch = append(batch, p)
	}

	if len(specs) > 0 {
		args := append([]string{path, "tracks"}, specs...)
		if err := execwrap.Run(ctx, job.Tools.Extractor, args); err != nil {
			return nil, fmt.Errorf("extracting tracks from %s: %w", source, err)
		}
	}

	// A_MS/ACM payloads are not stream-copyable by the extractor: try a
	// container-level WAV stream copy first, fall back to a PCM decode at
	// the source's bit depth.
	for _, p := range batch {
		if !p.acmWAV {
			continue
		}
		streamIdx := audioStreamIndex(pr, p.track.ID)
		err := media.StreamCopyToWAV(ctx, path, streamIdx, p.outPath)
		if err == nil {
			err = media.ValidateWAV(p.outPath)
		}
		if err != nil {
			bits := p.track.Properties.AudioBitsPerSample
			if bits == 0 {
				bits = 16
			}
			if err := media.DecodeToWAV(ctx, path, streamIdx, bits, p.outPath); err != nil {
				return nil, failureReport(job, source, p.track.ID, p.track.Properties.CodecID, path,
					"A_MS/ACM stream copy and PCM decode both failed: "+err.Error())
			}
		}
	}

	// Post-batch verification: every expected file exists and is non-empty.
	var planned []core.PlanItem
	for _, p := range batch {
		fi, err := os.Stat(p.outPath)
		if err != nil || fi.Size() == 0 {
			return nil, failureReport(job, source, p.track.ID, p.track.Properties.CodecID, path, "extractor produced no output")
		}

		item := buildPlanItem(job, source, p.layout, p.track, p.outPath)

		// Aspect ratios come from the decoder, not the container:
		// mux planning may need them for cropless pixel-ratio overrides.
		if item.Track.Kind == core.Video {
			if dar, err := media.GetDisplayAspectRatio(ctx, path, 0); err == nil {
				job.AspectRatios[core.FlagKey(source, p.track.ID)] = dar
			}
		}

		// A generated subtitle starts life as a copy of its source track's
		// payload; the filter configuration is applied by the subtitle stage.
		if p.layout.Filter != nil && item.Track.Kind == core.Subtitles {
			genPath := strings.TrimSuffix(p.outPath, filepath.Ext(p.outPath)) +
				"_generated" + filepath.Ext(p.outPath)
			if err := copyFile(p.outPath, genPath); err != nil {
				return nil, fmt.Errorf("copying generated subtitle payload: %w", err)
			}
			item.ExtractedPath = genPath
		}
		planned = append(planned, item)
	}

	return planned, nil
}

// audioStreamIndex converts a container track id to the decoder's a:N
// specifier space (audio tracks only, container order).
func audioStreamIndex(pr *probe.Result, trackID int) int {
	for i, t := range pr.AudioTracks() {
		if t.ID == trackID {
			return i
		}
	}
	return 0
}

func buildPlanItem(job *core.Job, source string, li core.LayoutItem, t probe.TrackInfo, outPath string) core.PlanItem {
	delay := 0
	if cd, ok := job.ContainerDelays[source]; ok {
		if d, ok := cd.AudioDelaysMs[t.ID]; ok {
			delay = d
		} else if t.Type == "video" {
			delay = cd.VideoDelayMs
		}
	}
	sizeMult := li.SizeMultiplier
	if sizeMult == 0 {
		sizeMult = 1.0
	}
	return core.PlanItem{
		Track: core.Track{
			Source:   source,
			ID:       t.ID,
			Kind:     core.TrackKind(t.Type),
			CodecID:  t.Properties.CodecID,
			Language: t.Lang(),
			Name:     t.Properties.TrackName,
		},
		ExtractedPath:    outPath,
		IsDefault:        li.IsDefault,
		IsForcedDisplay:  li.IsForcedDisplay,
		ApplyTrackName:   li.ApplyTrackName,
		ConvertToASS:     li.ConvertToASS,
		Rescale:          li.Rescale,
		SizeMultiplier:   sizeMult,
		StylePatches:     li.StylePatches,
		FontReplacements: li.FontReplacements,
		SyncTo:           li.SyncTo,
		ContainerDelayMs: delay,
		Filter:           li.Filter,
	}
}

// failureReport builds the structured extraction failure: which track,
// which source, which codec, plus manual-repro commands and a checklist.
func failureReport(job *core.Job, source string, trackID int, codec, path, reason string) error {
	report := diagnostics.ExtractionFailure{
		Source:  source,
		TrackID: trackID,
		Codec:   codec,
		File:    path,
		Reason:  reason,
		ManualCommands: []string{
			fmt.Sprintf("%s -J %q", job.Tools.Probe, path),
			fmt.Sprintf("%s %q tracks %d:out.bin", job.Tools.Extractor, path, trackID),
		},
	}
	report.Log(job.Handler.ZeroLog())
	return &report
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
