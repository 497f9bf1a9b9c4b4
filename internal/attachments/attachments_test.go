package attachments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFontMIME(t *testing.T) {
	cases := map[string]bool{
		"font/ttf":                       true,
		"font/otf":                       true,
		"application/font-sfnt":          true,
		"application/x-font-ttf":        true,
		"application/x-font":            true,
		"Application/X-Font-OTF":        true, // case-insensitive
		"image/png":                      false,
		"application/octet-stream":       false,
		"text/plain":                     false,
		"application/vnd.ms-opentype":   false, // not among the three observed prefixes
	}
	for ct, want := range cases {
		assert.Equal(t, want, IsFontMIME(ct), "content type %q", ct)
	}
}
