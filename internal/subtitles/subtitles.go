// Package subtitles loads, transforms, retimes, and persists subtitle
// tracks. Parsing and serialization are delegated to go-astisub;
// this package maintains a parallel float-millisecond event overlay so
// every timestamp operation happens on raw values and rounding to the
// output format's resolution occurs exactly once, at write.
package subtitles

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	astisub "github.com/tassa-yoniso-manasi-karoto/go-astisub"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

// Event is one subtitle cue with raw float-ms timing.
type Event struct {
	StartMs   float64
	EndMs     float64
	StyleName string
	Text      string
	IsComment bool
}

// File is a loaded subtitle track plus its event overlay.
type File struct {
	subs   *astisub.Subtitles
	Path   string
	Format string // "ass" | "ssa" | "srt"

	Events []Event

	// auditor fields: events pushed negative by an offset
	// are clamped at write and reported with the original signed minimum.
	NegativeStarts int
	MinStartMs     float64
}

// Open parses a subtitle file into the overlay model.
func Open(path string, log core.Logger) (*File, error) {
	subs, err := astisub.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	f := &File{
		subs:   subs,
		Path:   path,
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	f.Events = make([]Event, len(subs.Items))
	for i, item := range subs.Items {
		f.Events[i] = Event{
			StartMs:   durToMs(item.StartAt),
			EndMs:     durToMs(item.EndAt),
			StyleName: styleName(item),
			Text:      item.String(),
		}
	}
	checkWrittenPrecision(path, f.Format, log)
	return f, nil
}

func durToMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func styleName(item *astisub.Item) string {
	if item.Style != nil {
		return item.Style.ID
	}
	return ""
}

// assTimestampRe matches the fractional part of an ASS timestamp
// (H:MM:SS.CC); the diagnostic flags files written with millisecond
// precision, which round-trips lossily through the centisecond format.
var assTimestampRe = regexp.MustCompile(`\d:\d{2}:\d{2}\.(\d+)`)

// checkWrittenPrecision cross-checks the file's original fractional-digit
// precision against its format resolution and warns on mismatch.
func checkWrittenPrecision(path, format string, log core.Logger) {
	if format != "ass" && format != "ssa" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, m := range assTimestampRe.FindAllSubmatch(raw, 64) {
		if len(m[1]) > 2 {
			log.Warn().Str("file", filepath.Base(path)).
				Msg("timestamps carry more fractional digits than the format preserves")
			return
		}
	}
}

// Styles returns the declared style names.
func (f *File) Styles() []string {
	out := make([]string, 0, len(f.subs.Styles))
	for name := range f.subs.Styles {
		out = append(out, name)
	}
	return out
}

// PlayRes returns the script's declared PlayResX/PlayResY, zero when
// absent.
func (f *File) PlayRes() (x, y int) {
	if f.subs.Metadata == nil {
		return 0, 0
	}
	if f.subs.Metadata.SSAPlayResX != nil {
		x = *f.subs.Metadata.SSAPlayResX
	}
	if f.subs.Metadata.SSAPlayResY != nil {
		y = *f.subs.Metadata.SSAPlayResY
	}
	return x, y
}
