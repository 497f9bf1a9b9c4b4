package langtag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeForms(t *testing.T) {
	cases := map[string]string{
		"en":     "eng",
		"eng":    "eng",
		"fre":    "fra", // bibliographic 639-2B
		"fra":    "fra",
		"ja":     "jpn",
		"pt-BR":  "por", // BCP-47 region subtag stripped
		"zh-Hant": "zho",
		"":       "und",
		"zz":     "und",
		"und":    "und",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

// normalize(normalize(x)) == normalize(x).
func TestNormalizeIdempotent(t *testing.T) {
	for _, in := range []string{"en", "eng", "fre", "pt-BR", "und", "garbage", ""} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "in=%q", in)
	}
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("en", "eng"))
	assert.True(t, Matches("fre", "fra"))
	assert.False(t, Matches("eng", "jpn"))
	assert.False(t, Matches("und", "und"), "undetermined never matches")
	assert.False(t, Matches("", "eng"))
}

func TestToIETF(t *testing.T) {
	assert.Equal(t, "en", ToIETF("eng"))
	assert.Equal(t, "ja", ToIETF("jpn"))
	assert.Equal(t, "und", ToIETF("nonsense"))
}

func TestToLegacy(t *testing.T) {
	assert.Equal(t, "fre", ToLegacy("fr"))
	assert.Equal(t, "ger", ToLegacy("de"))
	assert.Equal(t, "eng", ToLegacy("en"))
}

func TestChapterDerivations(t *testing.T) {
	assert.Equal(t, "fr", ChapterIETF("fre"))
	assert.Equal(t, "fr", ChapterIETF("fra"))
	assert.Equal(t, "de", ChapterIETF("ger"))
	assert.Equal(t, "fre", ChapterLegacy("fr"))
	assert.Equal(t, "ger", ChapterLegacy("de"))
	assert.Equal(t, "eng", ChapterLegacy("en"))
	assert.Equal(t, "chi", ChapterLegacy("zh"))
}
