// Package langtag normalizes track and chapter language tags. Containers mix
// legacy 3-letter ISO 639-2 codes ("fre", "ger") with BCP-47 tags ("fr",
// "pt-BR"); the pipeline stores the ISO 639-3 code internally and derives
// whichever form an output needs.
package langtag

import (
	"strings"

	iso "github.com/barbashov/iso639-3"
)

const Undetermined = "und"

// Normalize maps any recognizable language code (639-1, 639-2B/T, 639-3, or
// the primary subtag of a BCP-47 tag) to its ISO 639-3 code. Unrecognized
// input normalizes to "und". Normalize is idempotent: its output is always
// a valid 639-3 code, which normalizes to itself.
func Normalize(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || code == Undetermined {
		return Undetermined
	}
	// BCP-47: only the primary subtag names the language.
	if i := strings.IndexByte(code, '-'); i > 0 {
		code = code[:i]
	}
	lang := iso.FromAnyCode(code)
	if lang == nil {
		return Undetermined
	}
	return lang.Part3
}

// Matches reports whether two tags name the same language once normalized.
// "und" never matches anything, including itself — an undetermined track
// must not win a language-based selection.
func Matches(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == Undetermined || nb == Undetermined {
		return false
	}
	return na == nb
}

// ToIETF returns the shortest BCP-47 form of a language code: the 639-1
// two-letter code when one exists, else the 639-3 code itself.
func ToIETF(code string) string {
	n := Normalize(code)
	if n == Undetermined {
		return Undetermined
	}
	lang := iso.FromPart3Code(n)
	if lang != nil && lang.Part1 != "" {
		return lang.Part1
	}
	return n
}

// ToLegacy returns the legacy 3-letter form Matroska chapter displays use:
// the bibliographic 639-2 code when it differs from 639-3 ("fre", "ger"),
// else the 639-3 code.
func ToLegacy(code string) string {
	n := Normalize(code)
	if n == Undetermined {
		return Undetermined
	}
	lang := iso.FromPart3Code(n)
	if lang != nil && lang.Part2B != "" {
		return lang.Part2B
	}
	return n
}
