// Package writer appends incremental updates to an existing PDF. The
// original bytes are never modified; new and replaced objects, a
// cross-reference section and a trailer are written after them.
package writer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"

	"github.com/casetrack/casesign/pdf/filters"
	"github.com/casetrack/casesign/pdf/generic"
	"github.com/casetrack/casesign/pdf/reader"
)

// ErrNotPositioned is returned when the output is not at offset zero.
var ErrNotPositioned = errors.New("output must be positioned at offset 0")

// IncrementalWriter collects changes to a document read by a
// reader.PdfFileReader and writes them as an incremental update.
type IncrementalWriter struct {
	Reader *reader.PdfFileReader

	objects    map[int]*generic.IndirectObject
	nextObjNum int
	root       *generic.DictionaryObject
}

// NewIncrementalWriter creates a writer for r. New objects are numbered from
// the reader's current size.
func NewIncrementalWriter(r *reader.PdfFileReader) *IncrementalWriter {
	return &IncrementalWriter{
		Reader:     r,
		objects:    make(map[int]*generic.IndirectObject),
		nextObjNum: r.Size(),
	}
}

// AddObject registers a new object and returns its reference.
func (w *IncrementalWriter) AddObject(obj generic.PdfObject) generic.Reference {
	ref := generic.NewReference(w.nextObjNum, 0)
	w.nextObjNum++
	w.objects[ref.ObjectNumber] = &generic.IndirectObject{Reference: ref, Object: obj}
	return ref
}

// UpdateObject replaces the object at ref in the update.
func (w *IncrementalWriter) UpdateObject(ref generic.Reference, obj generic.PdfObject) {
	w.objects[ref.ObjectNumber] = &generic.IndirectObject{Reference: ref, Object: obj}
}

// GetObject returns the object at ref as it will appear after the update.
func (w *IncrementalWriter) GetObject(ref generic.Reference) (generic.PdfObject, error) {
	if ind, ok := w.objects[ref.ObjectNumber]; ok {
		return ind.Object, nil
	}
	return w.Reader.GetObject(ref.ObjectNumber)
}

// Resolve follows obj if it is a reference, seeing pending updates.
func (w *IncrementalWriter) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	for i := 0; i < 32; i++ {
		ref, ok := obj.(generic.Reference)
		if !ok {
			return obj, nil
		}
		var err error
		if obj, err = w.GetObject(ref); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: reference chain too long", reader.ErrBadXRef)
}

func (w *IncrementalWriter) resolveDict(obj generic.PdfObject) *generic.DictionaryObject {
	resolved, err := w.Resolve(obj)
	if err != nil {
		return nil
	}
	d, _ := resolved.(*generic.DictionaryObject)
	return d
}

func (w *IncrementalWriter) resolveArray(obj generic.PdfObject) generic.ArrayObject {
	resolved, err := w.Resolve(obj)
	if err != nil {
		return nil
	}
	arr, _ := resolved.(generic.ArrayObject)
	return append(generic.ArrayObject(nil), arr...)
}

// Root returns an editable copy of the catalog that is written with the
// update.
func (w *IncrementalWriter) Root() *generic.DictionaryObject {
	if w.root == nil {
		w.root = w.Reader.Root.Clone()
		w.UpdateObject(w.Reader.RootRef, w.root)
	}
	return w.root
}

// HasChanges reports whether any object was added or updated.
func (w *IncrementalWriter) HasChanges() bool { return len(w.objects) > 0 }

// NextObjectNumber returns the number the next added object will get.
func (w *IncrementalWriter) NextObjectNumber() int { return w.nextObjNum }

// Write writes the original document followed by the update to out, which
// must be empty and at offset 0. Objects that record their own position
// (such as signature placeholders) see offsets relative to the start of out.
func (w *IncrementalWriter) Write(out io.WriteSeeker) error {
	pos, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos != 0 {
		return ErrNotPositioned
	}

	original := w.Reader.Data()
	if _, err := out.Write(original); err != nil {
		return err
	}
	if len(original) > 0 && original[len(original)-1] != '\n' {
		if _, err := io.WriteString(out, "\n"); err != nil {
			return err
		}
	}

	nums := make([]int, 0, len(w.objects))
	for num := range w.objects {
		nums = append(nums, num)
	}
	sort.Ints(nums)

	offsets := make(map[int]int64, len(nums))
	for _, num := range nums {
		if offsets[num], err = out.Seek(0, io.SeekCurrent); err != nil {
			return err
		}
		if err := w.objects[num].Write(out); err != nil {
			return fmt.Errorf("write object %d: %w", num, err)
		}
	}

	xrefOffset, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if w.Reader.HasXRefStream() && !w.Reader.Repaired() {
		return w.writeXRefStream(out, offsets, xrefOffset)
	}
	return w.writeXRefTable(out, offsets, xrefOffset)
}

// Bytes renders the updated document into memory.
func (w *IncrementalWriter) Bytes() ([]byte, error) {
	buf := generic.NewSeekableBuffer(nil)
	if err := w.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type xrefRow struct {
	num    int
	free   bool
	offset int64
	gen    int
}

// rows returns the entries of the new section. A repaired document gets a
// complete table since its old cross-reference data cannot be chained.
func (w *IncrementalWriter) rows(offsets map[int]int64) []xrefRow {
	var rows []xrefRow
	if w.Reader.Repaired() {
		existing := w.Reader.InUseObjects()
		rows = append(rows, xrefRow{num: 0, free: true, gen: 65535})
		for num := 1; num < w.nextObjNum; num++ {
			if off, ok := offsets[num]; ok {
				rows = append(rows, xrefRow{num: num, offset: off, gen: w.objects[num].GenerationNumber})
			} else if e, ok := existing[num]; ok {
				rows = append(rows, xrefRow{num: num, offset: e.Offset, gen: e.Generation})
			} else {
				rows = append(rows, xrefRow{num: num, free: true})
			}
		}
		return rows
	}

	nums := make([]int, 0, len(offsets))
	for num := range offsets {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	for _, num := range nums {
		rows = append(rows, xrefRow{num: num, offset: offsets[num], gen: w.objects[num].GenerationNumber})
	}
	return rows
}

// subsections splits sorted rows into runs of consecutive object numbers.
func subsections(rows []xrefRow) [][]xrefRow {
	var out [][]xrefRow
	for i := 0; i < len(rows); {
		j := i + 1
		for j < len(rows) && rows[j].num == rows[j-1].num+1 {
			j++
		}
		out = append(out, rows[i:j])
		i = j
	}
	return out
}

func (w *IncrementalWriter) trailerEntries(dict *generic.DictionaryObject, size int) {
	dict.Set("Size", generic.IntegerObject(size))
	dict.Set("Root", w.Reader.RootRef)
	if info := w.Reader.Trailer.Get("Info"); info != nil {
		dict.Set("Info", info)
	}
	dict.Set("ID", w.documentID())
	if prev := w.Reader.StartXRef(); prev >= 0 && !w.Reader.Repaired() {
		dict.Set("Prev", generic.IntegerObject(prev))
	}
}

// documentID keeps the permanent first identifier and replaces the second.
func (w *IncrementalWriter) documentID() generic.ArrayObject {
	changing := uuid.New()
	var permanent []byte
	if ids, ok := w.Reader.Trailer.Get("ID").(generic.ArrayObject); ok && len(ids) > 0 {
		if s, ok := ids[0].(*generic.StringObject); ok {
			permanent = s.Value
		}
	}
	if permanent == nil {
		id := uuid.New()
		permanent = id[:]
	}
	return generic.ArrayObject{generic.NewHexString(permanent), generic.NewHexString(changing[:])}
}

func (w *IncrementalWriter) writeXRefTable(out io.Writer, offsets map[int]int64, xrefOffset int64) error {
	var buf bytes.Buffer
	buf.WriteString("xref\n")
	for _, sub := range subsections(w.rows(offsets)) {
		fmt.Fprintf(&buf, "%d %d\n", sub[0].num, len(sub))
		for _, row := range sub {
			kind := 'n'
			if row.free {
				kind = 'f'
			}
			fmt.Fprintf(&buf, "%010d %05d %c\r\n", row.offset, row.gen, kind)
		}
	}

	trailer := generic.NewDictionary()
	w.trailerEntries(trailer, w.nextObjNum)
	buf.WriteString("trailer\n")
	if err := trailer.Write(&buf); err != nil {
		return err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	_, err := out.Write(buf.Bytes())
	return err
}

// writeXRefStream writes the section as a cross-reference stream, which
// becomes the last object of the update.
func (w *IncrementalWriter) writeXRefStream(out io.Writer, offsets map[int]int64, xrefOffset int64) error {
	self := w.nextObjNum
	rows := append(w.rows(offsets), xrefRow{num: self, offset: xrefOffset})

	offsetWidth := 4
	for _, row := range rows {
		if row.offset > 0xFFFFFFFF {
			offsetWidth = 8
			break
		}
	}

	var (
		data  bytes.Buffer
		index generic.ArrayObject
		field [8]byte
	)
	for _, sub := range subsections(rows) {
		index = append(index, generic.IntegerObject(sub[0].num), generic.IntegerObject(len(sub)))
		for _, row := range sub {
			kind := byte(1)
			if row.free {
				kind = 0
			}
			data.WriteByte(kind)
			binary.BigEndian.PutUint64(field[:], uint64(row.offset))
			data.Write(field[8-offsetWidth:])
			binary.BigEndian.PutUint16(field[:2], uint16(row.gen))
			data.Write(field[:2])
		}
	}

	encoded, err := filters.FlateEncode(data.Bytes())
	if err != nil {
		return err
	}
	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("XRef"))
	w.trailerEntries(dict, self+1)
	dict.Set("Index", index)
	dict.Set("W", generic.ArrayObject{
		generic.IntegerObject(1), generic.IntegerObject(offsetWidth), generic.IntegerObject(2),
	})
	dict.Set("Filter", generic.NameObject("FlateDecode"))

	stream := &generic.IndirectObject{
		Reference: generic.NewReference(self, 0),
		Object:    generic.NewStream(dict, encoded),
	}
	if err := stream.Write(out); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return err
}
