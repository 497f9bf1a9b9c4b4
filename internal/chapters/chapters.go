// Package chapters extracts Source 1's chapter XML, snaps timestamps to
// reference keyframes, shifts them into container time, normalizes the
// edition, and optionally renames displays.
package chapters

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/execwrap"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/langtag"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/pkg/media"
)

// Matroska chapter XML model, faithful to the extractor's output shape.
type chapterXML struct {
	XMLName  xml.Name     `xml:"Chapters"`
	Editions []editionXML `xml:"EditionEntry"`
}

type editionXML struct {
	UID     string       `xml:"EditionUID,omitempty"`
	Hidden  string       `xml:"EditionFlagHidden,omitempty"`
	Default string       `xml:"EditionFlagDefault,omitempty"`
	Atoms   []chapterAtom `xml:"ChapterAtom"`
}

type chapterAtom struct {
	UID      string           `xml:"ChapterUID,omitempty"`
	Start    string           `xml:"ChapterTimeStart"`
	End      string           `xml:"ChapterTimeEnd,omitempty"`
	Hidden   string           `xml:"ChapterFlagHidden,omitempty"`
	Enabled  string           `xml:"ChapterFlagEnabled,omitempty"`
	Displays []chapterDisplay `xml:"ChapterDisplay"`
}

type chapterDisplay struct {
	Text         string `xml:"ChapterString"`
	Language     string `xml:"ChapterLanguage,omitempty"`
	LanguageIETF string `xml:"ChapLanguageIETF,omitempty"`
}

// Run executes the full chapter pipeline and records the modified XML's
// path on the job. A source with no chapters is a no-op, not a failure.
func Run(ctx context.Context, job *core.Job) error {
	log := job.Handler.ZeroLog()
	s := job.Settings
	refPath := job.Spec.SourceFiles["Source 1"]

	raw, err := execwrap.Capture(ctx, job.Tools.Extractor, []string{refPath, "chapters"})
	if err != nil {
		return core.NewStageError("Chapters", core.AbortTask, err, nil)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		log.Debug().Msg("no chapters in Source 1")
		job.Handler.UpdateProgress("Chapters", 1, 1, "no chapters")
		return nil
	}

	var doc chapterXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return core.NewStageError("Chapters", core.AbortTask,
			fmt.Errorf("parsing chapter XML: %w", err), nil)
	}

	if s.SnapChapters {
		keyframes, err := media.ExtractKeyframes(ctx, refPath, 0)
		if err != nil {
			log.Warn().Err(err).Msg("keyframe read failed, chapter snapping skipped")
		} else {
			snapAll(&doc, keyframes, s.SnapMode, s.SnapThresholdMs, s.SnapStartsOnly, log)
		}
	}

	shiftAll(&doc, int64(job.Delays.GlobalShiftMs)*1_000_000)

	normalize(&doc, log)

	if s.RenameChapters {
		renameAll(&doc)
	}

	stem := strings.TrimSuffix(filepath.Base(refPath), filepath.Ext(refPath))
	outPath := core.ChaptersXMLPath(job.TempDir, stem)
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return core.NewStageError("Chapters", core.AbortTask, err, nil)
	}
	content := append([]byte(xml.Header), out...)
	if err := os.WriteFile(outPath, content, 0o644); err != nil {
		return core.NewStageError("Chapters", core.AbortTask, err, nil)
	}
	job.ChaptersXML = outPath
	job.Handler.UpdateProgress("Chapters", 1, 1, "chapters written")
	return nil
}

// snapAll moves chapter starts (and optionally ends) onto reference
// keyframes. Moves beyond the threshold are logged as too
// far and left alone.
func snapAll(doc *chapterXML, keyframes []float64, mode string, thresholdMs float64, startsOnly bool, log core.Logger) {
	snapOne := func(ts string) string {
		ns, err := parseChapterTime(ts)
		if err != nil {
			return ts
		}
		kfNs, ok := pickKeyframe(keyframes, ns, mode)
		if !ok {
			return ts
		}
		delta := kfNs - ns
		if abs64(delta) > int64(thresholdMs)*1_000_000 {
			log.Debug().Str("at", ts).Str("delta", FormatDelta(delta)).Msg("keyframe too far, chapter not snapped")
			return ts
		}
		log.Debug().Str("at", ts).Str("delta", FormatDelta(delta)).Msg("chapter snapped to keyframe")
		return formatChapterTime(kfNs)
	}

	for e := range doc.Editions {
		for a := range doc.Editions[e].Atoms {
			atom := &doc.Editions[e].Atoms[a]
			atom.Start = snapOne(atom.Start)
			if !startsOnly && atom.End != "" {
				atom.End = snapOne(atom.End)
			}
		}
	}
}

// pickKeyframe implements the previous/nearest snap modes over keyframe
// pts seconds.
func pickKeyframe(keyframes []float64, ns int64, mode string) (int64, bool) {
	if len(keyframes) == 0 {
		return 0, false
	}
	t := float64(ns) / 1e9
	switch mode {
	case "nearest":
		best, bestDist := 0.0, -1.0
		for _, kf := range keyframes {
			d := kf - t
			if d < 0 {
				d = -d
			}
			if bestDist < 0 || d < bestDist {
				best, bestDist = kf, d
			}
		}
		return int64(best * 1e9), true
	default: // previous: last keyframe <= timestamp
		found := false
		best := 0.0
		for _, kf := range keyframes {
			if kf <= t && (!found || kf > best) {
				best, found = kf, true
			}
		}
		if !found {
			return 0, false
		}
		return int64(best * 1e9), true
	}
}

// shiftAll moves every timestamp by deltaNs so chapters land in container
// time rather than video time.
func shiftAll(doc *chapterXML, deltaNs int64) {
	if deltaNs == 0 {
		return
	}
	shift := func(ts string) string {
		ns, err := parseChapterTime(ts)
		if err != nil {
			return ts
		}
		ns += deltaNs
		if ns < 0 {
			ns = 0
		}
		return formatChapterTime(ns)
	}
	for e := range doc.Editions {
		for a := range doc.Editions[e].Atoms {
			atom := &doc.Editions[e].Atoms[a]
			atom.Start = shift(atom.Start)
			if atom.End != "" {
				atom.End = shift(atom.End)
			}
		}
	}
}

// normalize sorts atoms, drops duplicates at identical starts, makes the
// edition seamless, extends the final end, and completes language codes
// on every display.
func normalize(doc *chapterXML, log core.Logger) {
	for e := range doc.Editions {
		atoms := doc.Editions[e].Atoms
		sort.SliceStable(atoms, func(i, j int) bool {
			ni, _ := parseChapterTime(atoms[i].Start)
			nj, _ := parseChapterTime(atoms[j].Start)
			return ni < nj
		})

		var deduped []chapterAtom
		var lastStart int64 = -1
		for _, a := range atoms {
			ns, err := parseChapterTime(a.Start)
			if err != nil {
				log.Warn().Str("start", a.Start).Msg("unparseable chapter start dropped")
				continue
			}
			if ns == lastStart {
				continue
			}
			lastStart = ns
			deduped = append(deduped, a)
		}

		for i := range deduped {
			startNs, _ := parseChapterTime(deduped[i].Start)
			if i+1 < len(deduped) {
				nextNs, _ := parseChapterTime(deduped[i+1].Start)
				deduped[i].End = formatChapterTime(nextNs)
			} else {
				endNs := startNs + 1_000_000_000
				if deduped[i].End != "" {
					if orig, err := parseChapterTime(deduped[i].End); err == nil && orig > endNs {
						endNs = orig
					}
				}
				deduped[i].End = formatChapterTime(endNs)
			}
			completeLanguages(&deduped[i])
		}
		doc.Editions[e].Atoms = deduped
	}
}

// completeLanguages preserves both the legacy 3-letter code and the
// BCP-47 code on every display, deriving the missing one from its
// sibling.
func completeLanguages(atom *chapterAtom) {
	if len(atom.Displays) == 0 {
		atom.Displays = []chapterDisplay{{Text: "", Language: "und", LanguageIETF: "und"}}
		return
	}
	for d := range atom.Displays {
		disp := &atom.Displays[d]
		switch {
		case disp.Language == "" && disp.LanguageIETF == "":
			disp.Language = "und"
			disp.LanguageIETF = "und"
		case disp.LanguageIETF == "":
			disp.LanguageIETF = langtag.ChapterIETF(disp.Language)
		case disp.Language == "":
			disp.Language = langtag.ChapterLegacy(disp.LanguageIETF)
		}
	}
}

// renameAll rewrites every display text to "Chapter NN", keeping its
// language metadata.
func renameAll(doc *chapterXML) {
	for e := range doc.Editions {
		for a := range doc.Editions[e].Atoms {
			name := fmt.Sprintf("Chapter %02d", a+1)
			for d := range doc.Editions[e].Atoms[a].Displays {
				doc.Editions[e].Atoms[a].Displays[d].Text = name
			}
		}
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
