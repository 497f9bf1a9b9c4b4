package core

import "sync"

// stageWeight is the fraction of total job
// progress each pipeline stage contributes once it completes.
var stageWeight = map[string]float64{
	"Analysis":    30,
	"Extraction":  8,
	"Correction":  30,
	"Subtitles":   12,
	"Chapters":    6,
	"Attachments": 2,
	"Mux":         12,
}

const totalStageWeight = 100

// WeightedProgress implements ProgressTracker by translating each stage's
// own completed/total counter into a share of the job's overall 0-100
// progress, so a caller watching one number sees steady forward motion
// across stages of very different cost (Correction's drift scans dwarf
// Attachments' file copies).
type WeightedProgress struct {
	mu        sync.Mutex
	completed map[string]float64 // stage -> weight already credited
	onUpdate  func(overall float64, stage, description string)
}

func NewProgressTracker(onUpdate func(overall float64, stage, description string)) *WeightedProgress {
	return &WeightedProgress{
		completed: make(map[string]float64),
		onUpdate:  onUpdate,
	}
}

func (w *WeightedProgress) UpdateProgress(stage string, completed, total int, description string) {
	weight, ok := stageWeight[stage]
	if !ok || total <= 0 {
		return
	}

	frac := float64(completed) / float64(total)
	if frac > 1 {
		frac = 1
	}

	w.mu.Lock()
	w.completed[stage] = weight * frac
	var overall float64
	for _, v := range w.completed {
		overall += v
	}
	w.mu.Unlock()

	if w.onUpdate != nil {
		w.onUpdate(overall/totalStageWeight*100, stage, description)
	}
}
