package report

import (
	"strings"
	"unicode"
)

// pictographs are the symbol ranges the core PDF fonts cannot draw.
var pictographs = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200d, Hi: 0x200d, Stride: 1}, // zero width joiner
		{Lo: 0x2011, Hi: 0x26ff, Stride: 1},
		{Lo: 0x2700, Hi: 0x27bf, Stride: 1},
		{Lo: 0xe000, Hi: 0xf8ff, Stride: 1},
		{Lo: 0xfe00, Hi: 0xfe0f, Stride: 1}, // variation selectors
	},
	R32: []unicode.Range32{
		{Lo: 0x1f000, Hi: 0x1f7ff, Stride: 1},
		{Lo: 0x1f910, Hi: 0x1f9ff, Stride: 1},
	},
}

// StripPictographs removes emoji and other pictographic symbols, then trims
// surrounding whitespace. Only rendered projections are stripped; stored
// reports keep the original text.
func StripPictographs(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.Is(pictographs, r) {
			return -1
		}
		return r
	}, s))
}
