// Package toolcheck gates optional features on what the resolved external
// tools were actually built with.
package toolcheck

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/execwrap"
)

// Capabilities is the feature surface probed once per batch and passed
// immutably alongside the tool-path table.
type Capabilities struct {
	DecoderVersion *semver.Version
	filters        map[string]bool
	hasSoxr        bool
}

var versionRe = regexp.MustCompile(`ffmpeg version n?(\d+\.\d+(?:\.\d+)?)`)

// ProbeDecoder interrogates the decoder binary for its version, filter
// list, and resampler build flags.
func ProbeDecoder(ctx context.Context, decoderBin string) (*Capabilities, error) {
	caps := &Capabilities{filters: make(map[string]bool)}

	out, err := execwrap.Capture(ctx, decoderBin, []string{"-hide_banner", "-version"})
	if err != nil {
		return nil, fmt.Errorf("querying decoder version: %w", err)
	}
	if m := versionRe.FindSubmatch(out); m != nil {
		if v, err := semver.NewVersion(string(m[1])); err == nil {
			caps.DecoderVersion = v
		}
	}
	caps.hasSoxr = strings.Contains(string(out), "--enable-libsoxr")

	out, err = execwrap.Capture(ctx, decoderBin, []string{"-hide_banner", "-filters"})
	if err != nil {
		return nil, fmt.Errorf("querying decoder filters: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && strings.ContainsAny(fields[0], "TSA.") {
			caps.filters[fields[1]] = true
		}
	}
	return caps, nil
}

// HasFilter reports whether the decoder was built with the named filter.
func (c *Capabilities) HasFilter(name string) bool {
	return c.filters[name]
}

// HasSoxr reports whether the high-quality soxr resampler is available.
func (c *Capabilities) HasSoxr() bool {
	return c.hasSoxr
}

// minVersionFor holds filters that only behave correctly past a known
// decoder release; older builds accept the filter but mis-handle channel
// layouts.
var minVersionFor = map[string]string{
	"rubberband": "4.4.0",
}

// RequireEngine validates that the configured resample engine is usable,
// returning an actionable error naming the missing feature otherwise.
func (c *Capabilities) RequireEngine(engine string) error {
	switch engine {
	case "atempo", "aresample":
		return nil // part of every decoder build
	case "rubberband":
		if !c.HasFilter("rubberband") {
			return fmt.Errorf("resample engine %q requires a decoder built with --enable-librubberband; rebuild the decoder or select atempo/aresample", engine)
		}
		if min, ok := minVersionFor["rubberband"]; ok && c.DecoderVersion != nil {
			if c.DecoderVersion.LessThan(semver.MustParse(min)) {
				return fmt.Errorf("resample engine %q requires decoder >= %s, found %s", engine, min, c.DecoderVersion)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown resample engine %q", engine)
	}
}

// RequireSoxr validates the use_soxr setting against the decoder build.
func (c *Capabilities) RequireSoxr() error {
	if !c.hasSoxr {
		return fmt.Errorf("use_soxr is enabled but the decoder was not built with --enable-libsoxr")
	}
	return nil
}
