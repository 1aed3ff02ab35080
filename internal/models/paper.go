package models

// PaperFormat is a named PDF page size understood by the browser print engine
type PaperFormat string

const (
	PaperFormatA0      PaperFormat = "A0"
	PaperFormatA1      PaperFormat = "A1"
	PaperFormatA2      PaperFormat = "A2"
	PaperFormatA3      PaperFormat = "A3"
	PaperFormatA4      PaperFormat = "A4"
	PaperFormatA5      PaperFormat = "A5"
	PaperFormatA6      PaperFormat = "A6"
	PaperFormatLetter  PaperFormat = "Letter"
	PaperFormatLegal   PaperFormat = "Legal"
	PaperFormatTabloid PaperFormat = "Tabloid"
	PaperFormatLedger  PaperFormat = "Ledger"
)

// paperDimensions maps each format to its width and height in inches, as
// expected by the CDP printToPDF call.
var paperDimensions = map[PaperFormat][2]float64{
	PaperFormatA0:      {33.1, 46.8},
	PaperFormatA1:      {23.4, 33.1},
	PaperFormatA2:      {16.54, 23.4},
	PaperFormatA3:      {11.7, 16.54},
	PaperFormatA4:      {8.27, 11.7},
	PaperFormatA5:      {5.83, 8.27},
	PaperFormatA6:      {4.13, 5.83},
	PaperFormatLetter:  {8.5, 11},
	PaperFormatLegal:   {8.5, 14},
	PaperFormatTabloid: {11, 17},
	PaperFormatLedger:  {17, 11},
}

// Valid reports whether the format is one of the supported page sizes.
func (f PaperFormat) Valid() bool {
	_, ok := paperDimensions[f]
	return ok
}

// Dimensions returns the page width and height in inches.
func (f PaperFormat) Dimensions() (width, height float64) {
	d := paperDimensions[f]
	return d[0], d[1]
}
