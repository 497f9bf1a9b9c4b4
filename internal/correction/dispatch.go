// Package correction is the third pipeline stage: it dispatches
// per-source timing corrections based on the Analysis diagnosis, producing
// corrected FLAC tracks plus preserved originals.
package correction

import (
	"context"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/analysis"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

// Run walks the diagnosis flag maps and corrects every audio track of each
// flagged source. PAL and linear drift are mutually exclusive with
// stepping by construction: Diagnose emits exactly one kind per source.
func Run(ctx context.Context, job *core.Job, results []analysis.Result) error {
	log := job.Handler.ZeroLog()

	flagged := 0
	for _, res := range results {
		if res.Diagnosis.Kind != analysis.Uniform {
			flagged++
		}
	}
	if flagged == 0 {
		job.Handler.UpdateProgress("Correction", 1, 1, "no correction needed")
		return nil
	}

	done := 0
	for _, res := range results {
		if job.Handler.Cancelled() {
			return core.NewCancelError("Correction")
		}
		switch res.Diagnosis.Kind {
		case analysis.PALDrift, analysis.LinearDrift:
			if err := correctDriftSource(ctx, job, res); err != nil {
				return core.NewStageError("Correction", core.AbortTask, err,
					map[string]interface{}{"source": res.Source})
			}
		case analysis.Stepping:
			if err := correctSteppingSource(ctx, job, res); err != nil {
				return core.NewStageError("Correction", core.AbortTask, err,
					map[string]interface{}{"source": res.Source})
			}
		default:
			continue
		}
		done++
		job.Handler.UpdateProgress("Correction", done, flagged, "corrected "+res.Source)
	}

	log.Debug().Int("sources", done).Msg("correction stage complete")
	return nil
}

// correctDriftSource applies the PAL/linear resample to every muxed audio
// track of the flagged source.
func correctDriftSource(ctx context.Context, job *core.Job, res analysis.Result) error {
	pal := res.Diagnosis.Kind == analysis.PALDrift
	var preserved []core.PlanItem
	for i := range job.PlanItems {
		item := &job.PlanItems[i]
		if item.Track.Source != res.Source || item.Track.Kind != core.Audio || item.IsPreserved {
			continue
		}
		p, err := correctDriftTrack(ctx, job, item, pal, res.Diagnosis.RateMsPerS)
		if err != nil {
			return err
		}
		preserved = append(preserved, *p)
	}
	job.PlanItems = append(job.PlanItems, preserved...)
	return nil
}

// correctSteppingSource runs Phase A once per source and Phase B once per
// target track, recording the EDL on the job for the subtitle
// stage.
func correctSteppingSource(ctx context.Context, job *core.Job, res analysis.Result) error {
	edl, material, err := GenerateEDL(ctx, job, res.Source, res.DelayMs, res.DelayRawMs, res.Diagnosis.Clusters)
	if err != nil {
		return err
	}
	job.SteppingEDLs[res.Source] = edl

	var preserved []core.PlanItem
	for i := range job.PlanItems {
		item := &job.PlanItems[i]
		if item.Track.Source != res.Source || item.Track.Kind != core.Audio || item.IsPreserved {
			continue
		}
		outPath, err := ApplyEDLToTrack(ctx, job, res.Source, item, edl, material)
		if err != nil {
			return err
		}
		p := item.Preserve(" (Original)")
		preserved = append(preserved, p)

		item.ExtractedPath = outPath
		item.Track.CodecID = "A_FLAC"
		if !strings.HasSuffix(item.Track.Name, " (Step Corrected)") {
			item.Track.Name = item.Track.Name + " (Step Corrected)"
		}
		item.IsCorrected = true
		item.ContainerDelayMs = 0
	}
	job.PlanItems = append(job.PlanItems, preserved...)
	return nil
}
