package signers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/casetrack/casesign/pdf/generic"
	"github.com/casetrack/casesign/pdf/reader"
	"github.com/casetrack/casesign/pdf/writer"
	"github.com/casetrack/casesign/sign/failure"
)

// ByteRangeArrayPlaceholderLength is the number of padding bytes reserved
// after "[]" for the /ByteRange value. Four 20-digit integers fit.
const ByteRangeArrayPlaceholderLength = 84

var (
	ErrOffsetsFilled  = errors.New("byte range offsets already filled")
	ErrNoOffsets      = errors.New("placeholder was not written to a seekable stream")
	ErrByteRangeWidth = errors.New("byte range does not fit its placeholder")
)

// SigByteRangeObject is the /ByteRange value of a signature dictionary. The
// first Write emits a fixed-width placeholder and remembers where it went;
// FillOffsets later overwrites it in place with the real values.
type SigByteRangeObject struct {
	filled             bool
	rangeObjectOffset  int64
	FirstRegionLen     int64
	SecondRegionOffset int64
	SecondRegionLen    int64
}

// NewSigByteRangeObject creates a new ByteRange object.
func NewSigByteRangeObject() *SigByteRangeObject {
	return &SigByteRangeObject{rangeObjectOffset: -1}
}

func (s *SigByteRangeObject) Write(w io.Writer) error {
	if !s.filled {
		if seeker, ok := w.(io.Seeker); ok && s.rangeObjectOffset < 0 {
			pos, err := seeker.Seek(0, io.SeekCurrent)
			if err != nil {
				return err
			}
			s.rangeObjectOffset = pos
		}
		_, err := io.WriteString(w, "[]"+strings.Repeat(" ", ByteRangeArrayPlaceholderLength))
		return err
	}

	repr := fmt.Sprintf("[0 %d %d %d]", s.FirstRegionLen, s.SecondRegionOffset, s.SecondRegionLen)
	if len(repr) > ByteRangeArrayPlaceholderLength+2 {
		return fmt.Errorf("%w: %d > %d", ErrByteRangeWidth, len(repr), ByteRangeArrayPlaceholderLength+2)
	}
	_, err := io.WriteString(w, repr)
	return err
}

// FillOffsets records the final ranges and patches them over the placeholder.
// The patched text is never longer than the placeholder, so no byte after it
// moves.
func (s *SigByteRangeObject) FillOffsets(stream io.WriteSeeker, sigStart, sigEnd, eof int64) error {
	if s.filled {
		return ErrOffsetsFilled
	}
	if s.rangeObjectOffset < 0 {
		return ErrNoOffsets
	}

	oldPos, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	s.FirstRegionLen = sigStart
	s.SecondRegionOffset = sigEnd
	s.SecondRegionLen = eof - sigEnd
	s.filled = true

	if _, err := stream.Seek(s.rangeObjectOffset, io.SeekStart); err != nil {
		return err
	}
	if err := s.Write(stream); err != nil {
		return err
	}
	_, err = stream.Seek(oldPos, io.SeekStart)
	return err
}

// ByteRange returns [0, len1, offset2, len2].
func (s *SigByteRangeObject) ByteRange() [4]int64 {
	return [4]int64{0, s.FirstRegionLen, s.SecondRegionOffset, s.SecondRegionLen}
}

// DERPlaceholder is the /Contents value: a hex string of zeros holding room
// for BytesReserved bytes of DER.
type DERPlaceholder struct {
	BytesReserved int
	StartOffset   int64
	EndOffset     int64
	hasOffsets    bool
}

// NewDERPlaceholder creates a new DER placeholder.
func NewDERPlaceholder(bytesReserved int) *DERPlaceholder {
	if bytesReserved <= 0 {
		bytesReserved = DefaultBytesReserved
	}
	return &DERPlaceholder{BytesReserved: bytesReserved}
}

func (d *DERPlaceholder) Write(w io.Writer) error {
	var start int64 = -1
	if seeker, ok := w.(io.Seeker); ok {
		pos, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		start = pos
	}

	n, err := io.WriteString(w, "<"+strings.Repeat("0", 2*d.BytesReserved)+">")
	if err != nil {
		return err
	}
	if !d.hasOffsets && start >= 0 {
		d.StartOffset = start
		d.EndOffset = start + int64(n)
		d.hasOffsets = true
	}
	return nil
}

// Offsets returns the positions of the opening '<' and one past the closing
// '>'.
func (d *DERPlaceholder) Offsets() (int64, int64, error) {
	if !d.hasOffsets {
		return 0, 0, ErrNoOffsets
	}
	return d.StartOffset, d.EndOffset, nil
}

// SignatureObjectOptions contains options for creating a signature object.
type SignatureObjectOptions struct {
	Name          string
	Location      string
	Reason        string
	ContactInfo   string
	BytesReserved int
	Timestamp     time.Time
}

// SignatureObject is a /Sig dictionary with its placeholders.
type SignatureObject struct {
	*generic.DictionaryObject
	Contents  *DERPlaceholder
	ByteRange *SigByteRangeObject
}

// NewSignatureObject creates a new signature dictionary declaring a detached
// PKCS#7 signature.
func NewSignatureObject(opts SignatureObjectOptions) *SignatureObject {
	if opts.Timestamp.IsZero() {
		opts.Timestamp = time.Now()
	}
	contents := NewDERPlaceholder(opts.BytesReserved)
	byteRange := NewSigByteRangeObject()

	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("Sig"))
	dict.Set("Filter", generic.NameObject("Adobe.PPKLite"))
	dict.Set("SubFilter", generic.NameObject(DefaultSigSubFilter))
	dict.Set("M", generic.NewLiteralString(FormatPDFDate(opts.Timestamp)))
	if opts.Name != "" {
		dict.Set("Name", generic.NewTextString(opts.Name))
	}
	if opts.Location != "" {
		dict.Set("Location", generic.NewTextString(opts.Location))
	}
	if opts.Reason != "" {
		dict.Set("Reason", generic.NewTextString(opts.Reason))
	}
	if opts.ContactInfo != "" {
		dict.Set("ContactInfo", generic.NewTextString(opts.ContactInfo))
	}
	dict.Set("ByteRange", byteRange)
	dict.Set("Contents", contents)

	return &SignatureObject{DictionaryObject: dict, Contents: contents, ByteRange: byteRange}
}

// FormatPDFDate formats a time as a PDF date string.
func FormatPDFDate(t time.Time) string {
	_, offset := t.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	if offset == 0 {
		return t.Format("D:20060102150405") + "Z"
	}
	return fmt.Sprintf("%s%s%02d'%02d'", t.Format("D:20060102150405"), sign, offset/3600, (offset%3600)/60)
}

// SignaturePlaceholder is a document with a reserved, unfilled signature.
// ByteRange covers the whole document except Document[ContentsStart:ContentsEnd].
type SignaturePlaceholder struct {
	Document      []byte
	ByteRange     [4]int64
	ContentsStart int64
	ContentsEnd   int64
	FieldName     string
}

// SignedContent returns the bytes covered by the byte range.
func (p *SignaturePlaceholder) SignedContent() []byte {
	out := make([]byte, 0, p.ByteRange[1]+p.ByteRange[3])
	out = append(out, p.Document[p.ByteRange[0]:p.ByteRange[0]+p.ByteRange[1]]...)
	return append(out, p.Document[p.ByteRange[2]:p.ByteRange[2]+p.ByteRange[3]]...)
}

// ReservedBytes is the DER capacity of the placeholder.
func (p *SignaturePlaceholder) ReservedBytes() int {
	return int(p.ContentsEnd-p.ContentsStart-2) / 2
}

// Fill returns a copy of the document with der written into the reserved
// /Contents field. A structure that does not fit is an OversizeSignature
// failure; nothing is truncated.
func (p *SignaturePlaceholder) Fill(der []byte) ([]byte, error) {
	out := generic.NewSeekableBuffer(p.Document)
	if err := FillReservedRegion(out, p.ContentsStart, p.ContentsEnd, der); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// FillReservedRegion writes hex-encoded content after the '<' at start. The
// zero digits already in the region serve as padding.
func FillReservedRegion(output io.WriteSeeker, start, end int64, content []byte) error {
	reserved := end - start - 2
	needed := int64(2 * len(content))
	if needed > reserved {
		return failure.Newf(failure.OversizeSignature,
			"signature of %d bytes exceeds the %d bytes reserved", len(content), reserved/2)
	}
	if _, err := output.Seek(start+1, io.SeekStart); err != nil {
		return err
	}
	_, err := output.Write([]byte(strings.ToUpper(hex.EncodeToString(content))))
	return err
}

// ReservePlaceholder appends an incremental update to pdf that adds a
// signature dictionary with placeholders, an invisible signature field on
// the last page and the matching form entries. The update is written once
// with placeholder values, then the byte range is patched in place now that
// every offset is known.
func ReservePlaceholder(pdf []byte, opts SignatureObjectOptions) (*SignaturePlaceholder, error) {
	r, err := reader.NewPdfFileReaderFromBytes(pdf)
	if err != nil {
		return nil, failure.New(failure.MalformedPDF, "document cannot be read", err)
	}
	w := writer.NewIncrementalWriter(r)

	sig := NewSignatureObject(opts)
	sigRef := w.AddObject(sig.DictionaryObject)
	name, _, err := w.AddSignatureField(r.PageCount()-1, sigRef)
	if err != nil {
		return nil, failure.New(failure.MalformedPDF, "document cannot take a signature field", err)
	}

	out := generic.NewSeekableBuffer(nil)
	if err := w.Write(out); err != nil {
		return nil, failure.New(failure.MalformedPDF, "document update could not be written", err)
	}
	start, end, err := sig.Contents.Offsets()
	if err != nil {
		return nil, err
	}
	if err := sig.ByteRange.FillOffsets(out, start, end, int64(out.Len())); err != nil {
		return nil, err
	}

	return &SignaturePlaceholder{
		Document:      out.Bytes(),
		ByteRange:     sig.ByteRange.ByteRange(),
		ContentsStart: start,
		ContentsEnd:   end,
		FieldName:     name,
	}, nil
}
