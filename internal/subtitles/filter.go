package subtitles

import (
	astisub "github.com/tassa-yoniso-manasi-karoto/go-astisub"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

// ApplyStyleFilter keeps or drops events by style name for a generated
// track. forced_include always wins over the mode decision
// and forced_exclude always loses; declared style names that match no
// event produce a warning, not a failure.
func (f *File) ApplyStyleFilter(cfg *core.SubtitleFilter, log core.Logger) {
	if cfg == nil {
		return
	}

	listed := make(map[string]bool)
	for _, s := range cfg.Styles {
		listed[s] = true
	}
	include := make(map[string]bool)
	for _, s := range cfg.ForcedInclude {
		include[s] = true
	}
	exclude := make(map[string]bool)
	for _, s := range cfg.ForcedExclude {
		exclude[s] = true
	}

	seen := make(map[string]bool)
	keep := func(style string) bool {
		seen[style] = true
		if include[style] {
			return true
		}
		if exclude[style] {
			return false
		}
		if cfg.Mode == "include" {
			return listed[style]
		}
		return !listed[style] // exclude mode
	}

	var events []Event
	var items []*astisub.Item
	for i, ev := range f.Events {
		if keep(ev.StyleName) {
			events = append(events, ev)
			items = append(items, f.subs.Items[i])
		}
	}
	f.Events = events
	f.subs.Items = items

	for _, s := range cfg.Styles {
		if !seen[s] {
			log.Warn().Str("style", s).Msg("filter lists a style no event uses")
		}
	}
}
