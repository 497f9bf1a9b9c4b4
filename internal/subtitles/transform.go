package subtitles

import (
	"strconv"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/core"
)

// ReplaceFonts swaps style font names per the replacement map.
func (f *File) ReplaceFonts(replacements map[string]string) {
	if len(replacements) == 0 {
		return
	}
	for _, style := range f.subs.Styles {
		if style.InlineStyle == nil {
			continue
		}
		if repl, ok := replacements[style.InlineStyle.SSAFontName]; ok {
			style.InlineStyle.SSAFontName = repl
		}
	}
}

// ApplyStylePatches applies declarative per-style field overrides. Only the fields a patch can name are
// supported; unknown fields warn and are skipped rather than failing the
// track.
func (f *File) ApplyStylePatches(patches []core.StylePatch, log core.Logger) {
	for _, p := range patches {
		style, ok := f.subs.Styles[p.Style]
		if !ok || style.InlineStyle == nil {
			log.Warn().Str("style", p.Style).Msg("style patch targets an undeclared style")
			continue
		}
		attrs := style.InlineStyle
		switch p.Field {
		case "Fontname":
			attrs.SSAFontName = p.Value
		case "Fontsize":
			if v, err := strconv.ParseFloat(p.Value, 64); err == nil {
				attrs.SSAFontSize = &v
			}
		case "Outline":
			if v, err := strconv.ParseFloat(p.Value, 64); err == nil {
				attrs.SSAOutline = &v
			}
		case "Shadow":
			if v, err := strconv.ParseFloat(p.Value, 64); err == nil {
				attrs.SSAShadow = &v
			}
		case "Bold":
			if v, err := strconv.ParseBool(p.Value); err == nil {
				attrs.SSABold = &v
			}
		case "Italic":
			if v, err := strconv.ParseBool(p.Value); err == nil {
				attrs.SSAItalic = &v
			}
		default:
			log.Warn().Str("style", p.Style).Str("field", p.Field).Msg("unsupported style patch field")
		}
	}
}

// Rescale rewrites PlayResX/Y to the reference video's dimensions and
// scales size-bearing style fields proportionally. A script with no declared PlayRes is assumed 384x288, the
// SSA default renderers fall back to.
func (f *File) Rescale(videoW, videoH int) {
	if videoW == 0 || videoH == 0 {
		return
	}
	oldX, oldY := f.PlayRes()
	if oldX == 0 {
		oldX = 384
	}
	if oldY == 0 {
		oldY = 288
	}
	if oldX == videoW && oldY == videoH {
		return
	}
	factor := float64(videoH) / float64(oldY)

	if f.subs.Metadata == nil {
		return
	}
	f.subs.Metadata.SSAPlayResX = &videoW
	f.subs.Metadata.SSAPlayResY = &videoH

	for _, style := range f.subs.Styles {
		attrs := style.InlineStyle
		if attrs == nil {
			continue
		}
		scaleF := func(p **float64) {
			if *p != nil {
				v := **p * factor
				*p = &v
			}
		}
		scaleI := func(p **int) {
			if *p != nil {
				v := int(float64(**p)*factor + 0.5)
				*p = &v
			}
		}
		scaleF(&attrs.SSAFontSize)
		scaleF(&attrs.SSAOutline)
		scaleF(&attrs.SSAShadow)
		scaleI(&attrs.SSAMarginLeft)
		scaleI(&attrs.SSAMarginRight)
		scaleI(&attrs.SSAMarginVertical)
	}
}

// MultiplyFontSize scales every style's font size by the item's size
// multiplier.
func (f *File) MultiplyFontSize(multiplier float64) {
	if multiplier == 0 || multiplier == 1 {
		return
	}
	for _, style := range f.subs.Styles {
		if style.InlineStyle == nil || style.InlineStyle.SSAFontSize == nil {
			continue
		}
		v := *style.InlineStyle.SSAFontSize * multiplier
		style.InlineStyle.SSAFontSize = &v
	}
}
