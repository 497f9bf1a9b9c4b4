package langtag

// legacyToIETF covers the chapter-display languages observed in the wild;
// ChapterIETF/ChapterLegacy fall back to ToIETF/ToLegacy for anything
// else, so this map only pins the common bibliographic spellings.
var legacyToIETF = map[string]string{
	"eng": "en",
	"jpn": "ja",
	"spa": "es",
	"fra": "fr",
	"fre": "fr",
	"deu": "de",
	"ger": "de",
	"ita": "it",
	"por": "pt",
	"rus": "ru",
	"kor": "ko",
	"zho": "zh",
	"chi": "zh",
}

// ChapterIETF derives the BCP-47 code for a chapter display block from its
// legacy 3-letter code.
func ChapterIETF(legacy string) string {
	if v, ok := legacyToIETF[legacy]; ok {
		return v
	}
	return ToIETF(legacy)
}

// ChapterLegacy derives the legacy 3-letter code from a BCP-47 tag.
func ChapterLegacy(ietf string) string {
	for leg, i := range legacyToIETF {
		if i == ietf {
			// prefer the bibliographic spellings for languages with two codes
			switch ietf {
			case "fr":
				return "fre"
			case "de":
				return "ger"
			case "zh":
				return "chi"
			}
			return leg
		}
	}
	return ToLegacy(ietf)
}
