// Package stamp renders the text block drawn by visual signatures.
package stamp

import (
	"bytes"
	"fmt"
	"image/color"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/casetrack/casesign/pdf/generic"
)

// FontResource is the resource name the rendered content uses for its font.
const FontResource = "CSHelv"

// StampStyle configures the appearance of a stamp.
type StampStyle struct {
	BorderColor color.RGBA
	// BorderWidth of 0 disables the border.
	BorderWidth float64
	TextColor   color.RGBA
	FontSize    float64
	// FontName is one of the standard 14 fonts.
	FontName string
	Padding  float64
	// Margin is the distance from the bottom-left corner of the page.
	Margin float64
}

// DefaultStampStyle returns the default stamp style.
func DefaultStampStyle() *StampStyle {
	return &StampStyle{
		BorderColor: color.RGBA{0, 0, 0, 255},
		BorderWidth: 0.5,
		TextColor:   color.RGBA{0, 0, 0, 255},
		FontSize:    9,
		FontName:    "Helvetica",
		Padding:     4,
		Margin:      36,
	}
}

// Details are the facts printed in a signature stamp.
type Details struct {
	SignerName  string
	SigningTime time.Time
	Reason      string
	Location    string
	ContactInfo string
}

// Lines returns the text lines for d.
func (d Details) Lines() []string {
	name := d.SignerName
	if name == "" {
		name = "unknown signer"
	}
	lines := []string{
		fmt.Sprintf("Digitally signed by %s", name),
		fmt.Sprintf("Date: %s", d.SigningTime.Format("2006-01-02 15:04:05 -07:00")),
	}
	if d.Reason != "" {
		lines = append(lines, fmt.Sprintf("Reason: %s", d.Reason))
	}
	if d.Location != "" {
		lines = append(lines, fmt.Sprintf("Location: %s", d.Location))
	}
	if d.ContactInfo != "" {
		lines = append(lines, fmt.Sprintf("Contact: %s", d.ContactInfo))
	}
	return lines
}

// TextStamp is a bordered block of text anchored at the bottom-left of a page.
type TextStamp struct {
	Style  *StampStyle
	Lines  []string
	Width  float64
	Height float64
}

// NewTextStamp creates a new text stamp.
func NewTextStamp(lines []string, style *StampStyle) *TextStamp {
	if style == nil {
		style = DefaultStampStyle()
	}

	maxWidth := 0.0
	for _, line := range lines {
		if w := textWidth(line, style.FontSize); w > maxWidth {
			maxWidth = w
		}
	}

	return &TextStamp{
		Style:  style,
		Lines:  lines,
		Width:  maxWidth + style.Padding*2,
		Height: float64(len(lines))*style.FontSize*1.2 + style.Padding*2,
	}
}

// Render returns the content stream operators drawing the stamp. The text is
// WinAnsi encoded; characters outside that set are replaced with '?'.
func (s *TextStamp) Render() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("q\n")
	fmt.Fprintf(&buf, "1 0 0 1 %s %s cm\n", num(s.Style.Margin), num(s.Style.Margin))

	if s.Style.BorderWidth > 0 {
		fmt.Fprintf(&buf, "%s RG\n", rgb(s.Style.BorderColor))
		fmt.Fprintf(&buf, "%s w\n", num(s.Style.BorderWidth))
		fmt.Fprintf(&buf, "0 0 %s %s re S\n", num(s.Width), num(s.Height))
	}

	fmt.Fprintf(&buf, "%s rg\n", rgb(s.Style.TextColor))
	buf.WriteString("BT\n")
	fmt.Fprintf(&buf, "/%s %s Tf\n", FontResource, num(s.Style.FontSize))
	fmt.Fprintf(&buf, "%s TL\n", num(s.Style.FontSize*1.2))
	fmt.Fprintf(&buf, "%s %s Td\n", num(s.Style.Padding), num(s.Height-s.Style.Padding-ascent(s.Style.FontSize)))
	for i, line := range s.Lines {
		if i > 0 {
			buf.WriteString("T*\n")
		}
		if err := generic.NewLiteralString(winAnsi(line)).Write(&buf); err != nil {
			return nil, err
		}
		buf.WriteString(" Tj\n")
	}
	buf.WriteString("ET\n")
	buf.WriteString("Q\n")
	return buf.Bytes(), nil
}

// Font returns the font dictionary to register under FontResource.
func (s *TextStamp) Font() *generic.DictionaryObject {
	font := generic.NewDictionary()
	font.Set("Type", generic.NameObject("Font"))
	font.Set("Subtype", generic.NameObject("Type1"))
	font.Set("BaseFont", generic.NameObject(s.Style.FontName))
	font.Set("Encoding", generic.NameObject("WinAnsiEncoding"))
	return font
}

func winAnsi(s string) string {
	var b strings.Builder
	for _, r := range s {
		if c, ok := charmap.Windows1252.EncodeRune(r); ok {
			b.WriteByte(c)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

func rgb(c color.RGBA) string {
	return fmt.Sprintf("%s %s %s", num(float64(c.R)/255), num(float64(c.G)/255), num(float64(c.B)/255))
}

func num(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", f), "0"), ".")
}
