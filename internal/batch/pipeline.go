// Package batch is the outer driver: it resolves tools,
// builds Jobs from JobSpecs, runs each through the seven-stage pipeline,
// and collects per-job results. Stage order is the strict happens-before
// chain: Analysis -> Extraction -> Correction -> Subtitles ->
// Chapters -> Attachments -> Mux.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/analysis"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/attachments"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/chapters"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/correction"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/diagnostics"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/execwrap"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/executils"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/extraction"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/muxplan"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/pkg/fsutil"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/pkg/media"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/subtitles"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/toolcheck"
)

// Runner executes jobs through the pipeline. It implements core.JobRunner.
type Runner struct {
	Settings    *config.Settings
	Tools       core.ToolPaths
	Caps        *toolcheck.Capabilities
	AnalyzeOnly bool // stop after Analysis, report delays without muxing
}

// ResolveTools locates the four external tool families once per batch
// and validates configured optional features against the decoder
// build.
func ResolveTools(ctx context.Context, s *config.Settings, overrides map[string]string) (core.ToolPaths, *toolcheck.Capabilities, error) {
	var tools core.ToolPaths
	var err error
	if tools.Probe, err = executils.FindBinary("mkvmerge", overrides); err != nil {
		return tools, nil, err
	}
	tools.Muxer = tools.Probe
	if tools.Extractor, err = executils.FindBinary("mkvextract", overrides); err != nil {
		return tools, nil, err
	}
	if tools.Decoder, err = executils.FindBinary("ffmpeg", overrides); err != nil {
		return tools, nil, err
	}
	if tools.FFprobe, err = executils.FindBinary("ffprobe", overrides); err != nil {
		return tools, nil, err
	}
	if s.AnalysisMode == "VideoDiff" {
		if tools.VideoDiff, err = executils.FindBinary("videodiff", overrides); err != nil {
			return tools, nil, err
		}
	}

	media.FFmpegPath = tools.Decoder
	media.FFprobePath = tools.FFprobe

	caps, err := toolcheck.ProbeDecoder(ctx, tools.Decoder)
	if err != nil {
		return tools, nil, err
	}
	if err := caps.RequireEngine(s.SegmentResampleEngine); err != nil {
		return tools, nil, err
	}
	if s.UseSoxr {
		if err := caps.RequireSoxr(); err != nil {
			return tools, nil, err
		}
	}
	return tools, caps, nil
}

// Workers derives the worker-pool size from settings, falling back to half
// the machine's physical core count (at least 1).
func Workers(s *config.Settings) int {
	if s.WorkersMax > 0 {
		return s.WorkersMax
	}
	if n, err := cpu.Counts(false); err == nil && n > 1 {
		return n / 2
	}
	return 1
}

// RunJob executes one job to completion. On
// failure the temp directory survives and a crash bundle is written; a
// successful merge tears it down. An analyze-only run returns before the
// teardown and leaves the temp directory in place.
func (r *Runner) RunJob(ctx context.Context, job *core.Job) (*core.JobResult, *core.ProcessingError) {
	log := job.Handler.ZeroLog()

	if err := validateSpec(job); err != nil {
		return failed(job, core.NewStageError("Config", core.AbortTask, err, nil)), nil
	}

	tempDir, unlock, err := core.PrepareTempDir(r.Settings.TempRoot, job.Spec.SourceFiles["Source 1"])
	if err != nil {
		return failed(job, core.NewStageError("Config", core.AbortTask, err, nil)), nil
	}
	job.TempDir = tempDir
	defer unlock()

	if free, err := fsutil.GetAvailableDiskSpace(tempDir); err == nil && free < 2*fsutil.GB {
		log.Warn().Str("temp", tempDir).Msg("less than 2 GiB free for extraction scratch")
	}

	stages := []pipelineStage{
		{"Analysis", func() error { return r.runAnalysis(ctx, job) }},
	}
	if !r.AnalyzeOnly {
		stages = append(stages,
			pipelineStage{"Extraction", func() error { return extraction.Run(ctx, job) }},
			pipelineStage{"Correction", func() error { return correction.Run(ctx, job, r.analysisResults(job)) }},
			pipelineStage{"Subtitles", func() error { return subtitles.Run(ctx, job) }},
			pipelineStage{"Chapters", func() error { return chapters.Run(ctx, job) }},
			pipelineStage{"Attachments", func() error { return attachments.Run(ctx, job) }},
			pipelineStage{"Mux", func() error { return r.runMux(ctx, job) }},
		)
	}

	for _, stage := range stages {
		if job.Handler.Cancelled() {
			return failed(job, core.NewCancelError(stage.name)), nil
		}
		log.Info().Str("stage", stage.name).Msg("stage starting")
		if err := stage.run(); err != nil {
			procErr := asProcessingError(stage.name, err)
			log.Error().Err(err).Str("stage", stage.name).Msg("stage failed, temp tree preserved")
			if bundle, berr := diagnostics.WriteCrashBundle(job.TempDir, handlerBuffer(job)); berr == nil {
				log.Info().Str("bundle", bundle).Msg("post-mortem bundle written")
			}
			return failed(job, procErr), procErr
		}
	}

	if r.AnalyzeOnly {
		return &core.JobResult{Status: core.StatusAnalyzed, Delays: job.Delays}, nil
	}

	if err := core.TeardownTempDir(job.TempDir); err != nil {
		log.Warn().Err(err).Msg("temp dir teardown failed")
	}
	return &core.JobResult{
		Status:     core.StatusMerged,
		OutputPath: job.OutputPath,
		Delays:     job.Delays,
	}, nil
}

// pipelineStage pairs a stage's log name with its entry point.
type pipelineStage struct {
	name string
	run  func() error
}

// analysisCache keys per-job analysis results so Correction can consume
// the diagnosis without re-running Analysis.
type analysisCache struct {
	results []analysis.Result
}

func (r *Runner) runAnalysis(ctx context.Context, job *core.Job) error {
	if r.Settings.AnalysisMode == "VideoDiff" {
		return r.runVideoDiff(ctx, job)
	}
	results, err := analysis.Run(ctx, job)
	if err != nil {
		return err
	}
	analysis.ApplyGlobalShift(job, r.Settings.SyncMode)
	storeCache(job.ID, &analysisCache{results: results})
	return nil
}

// runVideoDiff is the alternate analysis mode: a structural video
// comparison per secondary source, no drift/stepping diagnosis.
func (r *Runner) runVideoDiff(ctx context.Context, job *core.Job) error {
	refPath := job.Spec.SourceFiles["Source 1"]
	var results []analysis.Result
	for _, source := range job.SecondarySources() {
		vd, err := analysis.RunVideoDiff(ctx, r.Tools.VideoDiff, refPath, job.Spec.SourceFiles[source], r.Settings)
		if err != nil {
			return err
		}
		job.Delays.Set(source, vd.DelayMs, vd.DelayRawMs)
		job.VideoDiffDelays[source] = vd.DelayRawMs
		results = append(results, analysis.Result{
			Source: source, DelayMs: vd.DelayMs, DelayRawMs: vd.DelayRawMs,
		})
	}
	analysis.ApplyGlobalShift(job, r.Settings.SyncMode)
	storeCache(job.ID, &analysisCache{results: results})
	return nil
}

// jobCaches carries analysis results from the Analysis stage to the
// Correction stage. Keyed by job id; entries never outlive their job, but
// concurrent batch workers insert in parallel, hence the mutex.
var (
	jobCachesMu sync.Mutex
	jobCaches   = make(map[string]*analysisCache)
)

func storeCache(jobID string, c *analysisCache) {
	jobCachesMu.Lock()
	defer jobCachesMu.Unlock()
	jobCaches[jobID] = c
}

func (r *Runner) analysisResults(job *core.Job) []analysis.Result {
	jobCachesMu.Lock()
	defer jobCachesMu.Unlock()
	if c, ok := jobCaches[job.ID]; ok {
		return c.results
	}
	return nil
}

func (r *Runner) runMux(ctx context.Context, job *core.Job) error {
	if err := muxplan.Build(job); err != nil {
		return err
	}
	respFile, err := muxplan.WriteResponseFile(job)
	if err != nil {
		return err
	}

	source1 := job.Spec.SourceFiles["Source 1"]
	stem := strings.TrimSuffix(filepath.Base(source1), filepath.Ext(source1))
	outDir := r.Settings.OutputFolder
	if outDir == "" {
		outDir = filepath.Dir(source1)
	}
	job.OutputPath = filepath.Join(outDir, stem+"_merged.mkv")

	args := []string{"-o", job.OutputPath, "@" + respFile}
	if err := execwrap.Run(ctx, job.Tools.Muxer, args); err != nil {
		return fmt.Errorf("muxing: %w", err)
	}
	jobCachesMu.Lock()
	delete(jobCaches, job.ID)
	jobCachesMu.Unlock()
	job.Handler.UpdateProgress("Mux", 2, 2, "merged")
	return nil
}

func validateSpec(job *core.Job) error {
	if _, ok := job.Spec.SourceFiles["Source 1"]; !ok {
		return fmt.Errorf("job has no Source 1")
	}
	if len(job.Spec.Layout) == 0 {
		return fmt.Errorf("job has an empty track layout")
	}
	return nil
}

func asProcessingError(stage string, err error) *core.ProcessingError {
	if pe, ok := err.(*core.ProcessingError); ok {
		return pe
	}
	return core.NewStageError(stage, core.AbortTask, err, nil)
}

func failed(job *core.Job, procErr *core.ProcessingError) *core.JobResult {
	status := core.StatusFailed
	return &core.JobResult{Status: status, Delays: job.Delays, Error: procErr}
}

func handlerBuffer(job *core.Job) []byte {
	if h, ok := job.Handler.(*core.CLIHandler); ok {
		return h.LogBuffer()
	}
	return nil
}
