package stamp

// Helvetica glyph advances in 1/1000 em, ASCII 32 through 126.
var helveticaWidths = [...]uint16{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278, // ' ' to '/'
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, // digits
	278, 278, 584, 584, 584, 556, 1015, // ':' to '@'
	667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, // 'A' to 'M'
	722, 778, 667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, // 'N' to 'Z'
	278, 278, 278, 469, 556, 333, // '[' to '`'
	556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, // 'a' to 'm'
	556, 556, 556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, // 'n' to 'z'
	334, 260, 334, 584, // '{' to '~'
}

const (
	helveticaDefaultWidth = 556
	helveticaAscender     = 718
)

// textWidth returns the advance of s set in Helvetica at size points.
func textWidth(s string, size float64) float64 {
	var units int
	for _, r := range s {
		if r >= ' ' && int(r-' ') < len(helveticaWidths) {
			units += int(helveticaWidths[r-' '])
			continue
		}
		units += helveticaDefaultWidth
	}
	return float64(units) * size / 1000
}

// ascent is the height of the tallest glyphs above the baseline.
func ascent(size float64) float64 {
	return helveticaAscender * size / 1000
}
