package stamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailsLines(t *testing.T) {
	ts := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)

	t.Run("minimal", func(t *testing.T) {
		lines := Details{SignerName: "Ana Ruiz", SigningTime: ts}.Lines()
		assert.Equal(t, []string{
			"Digitally signed by Ana Ruiz",
			"Date: 2026-03-01 14:30:00 +00:00",
		}, lines)
	})

	t.Run("all fields", func(t *testing.T) {
		lines := Details{
			SignerName:  "Ana Ruiz",
			SigningTime: ts,
			Reason:      "Approval",
			Location:    "Lisbon",
			ContactInfo: "ana@example.org",
		}.Lines()
		require.Len(t, lines, 5)
		assert.Equal(t, "Reason: Approval", lines[2])
		assert.Equal(t, "Location: Lisbon", lines[3])
		assert.Equal(t, "Contact: ana@example.org", lines[4])
	})
}

func TestTextStampRender(t *testing.T) {
	s := NewTextStamp([]string{"Digitally signed by José (QA)", "Date: today"}, nil)
	content, err := s.Render()
	require.NoError(t, err)

	out := string(content)
	assert.Contains(t, out, "/CSHelv 9 Tf")
	assert.Contains(t, out, "1 0 0 1 36 36 cm")
	// é is 0xE9 in WinAnsi, parentheses are escaped.
	assert.Contains(t, out, `(Digitally signed by Jos\351 \(QA\)) Tj`)
	assert.Contains(t, out, "T*\n(Date: today) Tj")
	assert.True(t, len(out) > 0 && out[:2] == "q\n")
}

func TestWinAnsiReplacesUnmappable(t *testing.T) {
	assert.Equal(t, "a?b", winAnsi("a中b"))
	assert.Equal(t, "\x80", winAnsi("€"))
}

func TestFontDictionary(t *testing.T) {
	font := NewTextStamp(nil, nil).Font()
	assert.Equal(t, "Helvetica", font.GetName("BaseFont"))
	assert.Equal(t, "WinAnsiEncoding", font.GetName("Encoding"))
}

func TestNum(t *testing.T) {
	assert.Equal(t, "0", num(0))
	assert.Equal(t, "10.8", num(10.8))
	assert.Equal(t, "100", num(100))
}

func TestTextWidth(t *testing.T) {
	// "Hi" is 722 + 222 units.
	assert.InDelta(t, 9.44, textWidth("Hi", 10), 1e-9)
	// Characters without a metric use the default advance.
	assert.InDelta(t, 5.56, textWidth("中", 10), 1e-9)
	assert.Zero(t, textWidth("", 10))
}

func TestTextStampSizedByWidestLine(t *testing.T) {
	style := DefaultStampStyle()
	s := NewTextStamp([]string{"iii", "WWW"}, style)
	assert.InDelta(t, textWidth("WWW", style.FontSize)+2*style.Padding, s.Width, 1e-9)
	assert.InDelta(t, 2*style.FontSize*1.2+2*style.Padding, s.Height, 1e-9)
}
