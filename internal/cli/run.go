package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/batch"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

var (
	jobsFile    string
	analyzeOnly bool
)

// jobFileEntry is the on-disk job description.
type jobFileEntry struct {
	Sources          map[string]string `json:"sources"`
	Layout           []layoutEntry     `json:"layout"`
	AttachmentSource string            `json:"attachment_source,omitempty"`
	AnalysisLangRef  string            `json:"analysis_lang_source1,omitempty"`
	AnalysisLangOthers string          `json:"analysis_lang_others,omitempty"`
}

type layoutEntry struct {
	Source          string            `json:"source"`
	TrackID         int               `json:"track_id"`
	Kind            string            `json:"kind"`
	Default         bool              `json:"default,omitempty"`
	ForcedDisplay   bool              `json:"forced_display,omitempty"`
	ApplyTrackName  bool              `json:"apply_track_name,omitempty"`
	ConvertToASS    bool              `json:"convert_to_ass,omitempty"`
	Rescale         bool              `json:"rescale,omitempty"`
	SizeMultiplier  float64           `json:"size_multiplier,omitempty"`
	SyncTo          string            `json:"sync_to,omitempty"`
	Filter          *filterEntry      `json:"filter,omitempty"`
	StylePatches    []stylePatchEntry `json:"style_patches,omitempty"`
	FontReplacements map[string]string `json:"font_replacements,omitempty"`
}

type filterEntry struct {
	Mode          string   `json:"mode"`
	Styles        []string `json:"styles"`
	ForcedInclude []string `json:"forced_include,omitempty"`
	ForcedExclude []string `json:"forced_exclude,omitempty"`
}

type stylePatchEntry struct {
	Style string `json:"style"`
	Field string `json:"field"`
	Value string `json:"value"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a batch of merge jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd.Context(), false)
	},
}

func init() {
	runCmd.Flags().StringVarP(&jobsFile, "jobs", "j", "", "JSON file listing the batch's jobs")
	_ = runCmd.MarkFlagRequired("jobs")
	rootCmd.AddCommand(runCmd)
}

func runBatch(ctx context.Context, analyze bool) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}

	specs, err := loadJobSpecs(jobsFile, settings)
	if err != nil {
		return err
	}

	tools, caps, err := batch.ResolveTools(ctx, settings, nil)
	if err != nil {
		return err
	}

	runner := &batch.Runner{Settings: settings, Tools: tools, Caps: caps, AnalyzeOnly: analyze}
	handler := core.NewCLIHandler(ctx)

	jobs := make([]*core.Job, len(specs))
	for i, spec := range specs {
		jobs[i] = core.NewJob(spec, settings, tools, handler)
	}

	pool := core.NewWorkerPool(runner, batch.Workers(settings), handler)
	results, errs := pool.ProcessJobs(ctx, jobs)

	failedCount := 0
	for i, res := range results {
		if res == nil {
			failedCount++
			continue
		}
		switch res.Status {
		case core.StatusMerged:
			fmt.Printf("job %d: Merged -> %s\n", i+1, res.OutputPath)
		case core.StatusAnalyzed:
			fmt.Printf("job %d: Analyzed, delays: %v (global shift %d ms)\n",
				i+1, res.Delays.SourceDelaysMs, res.Delays.GlobalShiftMs)
		default:
			failedCount++
			fmt.Printf("job %d: Failed: %v\n", i+1, errs[i])
		}
	}
	if failedCount > 0 {
		return fmt.Errorf("%d of %d jobs failed", failedCount, len(results))
	}
	return nil
}

func loadJobSpecs(path string, settings *config.Settings) ([]core.JobSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []jobFileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	specs := make([]core.JobSpec, len(entries))
	for i, e := range entries {
		spec := core.JobSpec{
			SourceFiles:       e.Sources,
			AttachmentSource:  e.AttachmentSource,
			AnalysisLangRef:   firstNonEmpty(e.AnalysisLangRef, settings.AnalysisLangSource1),
			AnalysisLangOther: firstNonEmpty(e.AnalysisLangOthers, settings.AnalysisLangOthers),
		}
		for _, le := range e.Layout {
			li := core.LayoutItem{
				Source:          le.Source,
				TrackID:         le.TrackID,
				Kind:            core.TrackKind(le.Kind),
				IsDefault:       le.Default,
				IsForcedDisplay: le.ForcedDisplay,
				ApplyTrackName:  le.ApplyTrackName,
				ConvertToASS:    le.ConvertToASS,
				Rescale:         le.Rescale,
				SizeMultiplier:  le.SizeMultiplier,
				SyncTo:          le.SyncTo,
				FontReplacements: le.FontReplacements,
			}
			if le.Filter != nil {
				li.Filter = &core.SubtitleFilter{
					Mode:          le.Filter.Mode,
					Styles:        le.Filter.Styles,
					ForcedInclude: le.Filter.ForcedInclude,
					ForcedExclude: le.Filter.ForcedExclude,
				}
			}
			for _, sp := range le.StylePatches {
				li.StylePatches = append(li.StylePatches, core.StylePatch{
					Style: sp.Style, Field: sp.Field, Value: sp.Value,
				})
			}
			spec.Layout = append(spec.Layout, li)
		}
		specs[i] = spec
	}
	return specs, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
