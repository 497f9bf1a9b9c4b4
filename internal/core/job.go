package core

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/config"
)

// LayoutItem is one entry of the user-supplied track layout: which source,
// which track id, what the caller wants done with it. The GUI that builds
// this list is out of scope; the core only consumes it.
type LayoutItem struct {
	Source          string
	TrackID         int
	Kind            TrackKind
	IsDefault       bool
	IsForcedDisplay bool
	ApplyTrackName  bool
	ConvertToASS    bool
	Rescale         bool
	SizeMultiplier  float64
	SyncTo          string
	Filter          *SubtitleFilter
	StylePatches    []StylePatch
	FontReplacements map[string]string
}

// JobSpec is the caller-supplied input to one batch entry.
type JobSpec struct {
	SourceFiles       map[string]string // source key -> file path, "Source 1" required
	Layout            []LayoutItem
	AttachmentSource  string // source key to pull font attachments from
	AnalysisLangRef   string
	AnalysisLangOther string
}

// Job is the mutable per-job Context value the pipeline is orchestrated
// over. It is created at job start and torn down after final mux, or
// left in place on failure for post-mortem inspection.
type Job struct {
	ID       string
	Spec     JobSpec
	Settings *config.Settings
	Tools    ToolPaths
	Handler  MessageHandler

	TempDir string

	// Running outputs, populated strictly left-to-right by stage.
	Delays          *Delays
	PlanItems       []PlanItem
	ChaptersXML     string
	Attachments     []string
	PALDriftFlags   map[string]bool // "{source}_{track_id}" -> flagged
	LinearDriftFlags map[string]bool
	SteppingFlags   map[string]bool
	SteppingEDLs    map[string]EDL // keyed by source
	ContainerDelays map[string]*ContainerDelayInfo

	AspectRatios map[string]string // "{source}_{track_id}" -> decoder-reported DAR

	// VideoDiffDelays holds the per-source video-verified delay estimates
	// (raw ms) when the VideoDiff analysis mode ran; the subtitle stage's
	// video-verified sync mode prefers these over audio-derived delays.
	VideoDiffDelays map[string]float64

	MuxTokens  []string
	OutputPath string

	createdAt time.Time
}

// ToolPaths is the immutable table of resolved external-tool paths.
type ToolPaths struct {
	Probe     string // mkvmerge -J
	Extractor string // mkvextract
	Muxer     string // mkvmerge
	Decoder   string // ffmpeg
	FFprobe   string // ffprobe, keyframe/duration reads
	VideoDiff string // optional, VideoDiff analysis mode only
}

// NewJob allocates a Job. Its temp directory is named and created later by
// PrepareTempDir (see tempdir.go). The id is a uuid rather than a counter so
// concurrent batch workers never collide on the per-job analysis cache key.
func NewJob(spec JobSpec, settings *config.Settings, tools ToolPaths, handler MessageHandler) *Job {
	return &Job{
		ID:               uuid.NewString(),
		Spec:             spec,
		Settings:         settings,
		Tools:            tools,
		Handler:          handler,
		Delays:           NewDelays(),
		PALDriftFlags:    make(map[string]bool),
		LinearDriftFlags: make(map[string]bool),
		SteppingFlags:    make(map[string]bool),
		SteppingEDLs:     make(map[string]EDL),
		ContainerDelays:  make(map[string]*ContainerDelayInfo),
		AspectRatios:     make(map[string]string),
		VideoDiffDelays:  make(map[string]float64),
		createdAt:        time.Now(),
	}
}

func FlagKey(source string, trackID int) string {
	return pairKey(source, trackID)
}

// SecondarySources returns every source key other than "Source 1", sorted
// for deterministic iteration order (correction and analysis both process
// sources in a stable order so logs/tests are reproducible).
func (j *Job) SecondarySources() []string {
	out := make([]string, 0, len(j.Spec.SourceFiles))
	for k := range j.Spec.SourceFiles {
		if k != "Source 1" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
