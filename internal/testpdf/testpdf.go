// Package testpdf produces unsigned PDF fixtures for tests: documents laid
// out by gofpdf, and hand-built documents whose structure (cross-reference
// form, object streams, size) is controlled exactly.
package testpdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

// Generate lays out a document with one page per entry of pages.
func Generate(t testing.TB, pages ...string) []byte {
	t.Helper()
	if len(pages) == 0 {
		pages = []string{"Case summary"}
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 14)
	for _, text := range pages {
		pdf.AddPage()
		pdf.Text(20, 30, text)
	}

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

// Options control a hand-built document.
type Options struct {
	Pages int
	// Padding adds an unreferenced stream of this many bytes, for size sweeps.
	Padding int
	// XRefStream writes a cross-reference stream instead of a table.
	XRefStream bool
	// ObjectStream stores the catalog and page tree in a compressed object
	// stream. Implies XRefStream.
	ObjectStream bool
	// AcroForm adds an indirect, empty interactive form to the catalog.
	AcroForm bool
}

type object struct {
	num  int
	body string
}

// Build returns a document with the requested structure. Object 1 is the
// catalog and object 2 the page tree.
func Build(opts Options) []byte {
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	if opts.ObjectStream {
		opts.XRefStream = true
	}

	var objs []object
	next := 3
	alloc := func() int { n := next; next++; return n }

	var kids []string
	var pageObjs []object
	for i := 0; i < opts.Pages; i++ {
		pageNum, contentNum := alloc(), alloc()
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (Page %d) Tj ET", i+1)
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))
		pageObjs = append(pageObjs,
			object{pageNum, fmt.Sprintf("<</Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R>>", contentNum)},
			object{contentNum, fmt.Sprintf("<</Length %d>>\nstream\n%s\nendstream", len(content), content)},
		)
	}
	fontNum := alloc()
	objs = append(objs, object{fontNum, "<</Type /Font /Subtype /Type1 /BaseFont /Helvetica>>"})
	objs = append(objs, pageObjs...)

	catalog := "<</Type /Catalog /Pages 2 0 R"
	if opts.AcroForm {
		formNum := alloc()
		objs = append(objs, object{formNum, "<</Fields []>>"})
		catalog += fmt.Sprintf(" /AcroForm %d 0 R", formNum)
	}
	catalog += ">>"
	pages := fmt.Sprintf("<</Type /Pages /Kids [%s] /Count %d /Resources <</Font <</F1 %d 0 R>>>>>>",
		strings.Join(kids, " "), opts.Pages, fontNum)

	if opts.Padding > 0 {
		padding := bytes.Repeat([]byte("0123456789abcdef"), opts.Padding/16+1)[:opts.Padding]
		objs = append(objs, object{alloc(), fmt.Sprintf("<</Length %d>>\nstream\n%s\nendstream", len(padding), padding)})
	}

	type compressed struct{ stream, index int }
	packed := map[int]compressed{}
	if opts.ObjectStream {
		stmNum := alloc()
		header := "1 0 2 " + fmt.Sprint(len(catalog)+1)
		body := header + "\n" + catalog + "\n" + pages
		first := len(header) + 1
		data := deflate([]byte(body))
		objs = append(objs, object{stmNum, fmt.Sprintf(
			"<</Type /ObjStm /N 2 /First %d /Filter /FlateDecode /Length %d>>\nstream\n%s\nendstream",
			first, len(data), data)})
		packed[1] = compressed{stmNum, 0}
		packed[2] = compressed{stmNum, 1}
	} else {
		objs = append(objs, object{1, catalog}, object{2, pages})
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].num < objs[j].num })

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	offsets := map[int]int{}
	for _, o := range objs {
		offsets[o.num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", o.num, o.body)
	}

	xrefNum := next
	size := next
	if opts.XRefStream {
		size++
	}
	xrefOffset := buf.Len()

	if !opts.XRefStream {
		fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f\r\n", size)
		for n := 1; n < size; n++ {
			fmt.Fprintf(&buf, "%010d 00000 n\r\n", offsets[n])
		}
		fmt.Fprintf(&buf, "trailer\n<</Size %d /Root 1 0 R>>\nstartxref\n%d\n%%%%EOF\n", size, xrefOffset)
		return buf.Bytes()
	}

	offsets[xrefNum] = xrefOffset
	var rows bytes.Buffer
	for n := 0; n < size; n++ {
		row := make([]byte, 7)
		switch c, ok := packed[n]; {
		case n == 0:
			row[0] = 0
			binary.BigEndian.PutUint16(row[5:], 65535)
		case ok:
			row[0] = 2
			binary.BigEndian.PutUint32(row[1:], uint32(c.stream))
			binary.BigEndian.PutUint16(row[5:], uint16(c.index))
		default:
			row[0] = 1
			binary.BigEndian.PutUint32(row[1:], uint32(offsets[n]))
		}
		rows.Write(row)
	}
	fmt.Fprintf(&buf, "%d 0 obj\n<</Type /XRef /Size %d /W [1 4 2] /Root 1 0 R /Length %d>>\nstream\n",
		xrefNum, size, rows.Len())
	buf.Write(rows.Bytes())
	fmt.Fprintf(&buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func deflate(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}
