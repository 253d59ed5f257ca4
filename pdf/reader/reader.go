// Package reader parses the structure of an existing PDF document: the
// cross-reference data, trailer, catalog, page list and signature fields.
// Object contents are parsed lazily and cached.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/casetrack/casesign/pdf/filters"
	"github.com/casetrack/casesign/pdf/generic"
)

// Common errors
var (
	ErrNotPDF         = errors.New("data is not a PDF document")
	ErrBadXRef        = errors.New("invalid cross-reference data")
	ErrEncrypted      = errors.New("encrypted documents are not supported")
	ErrObjectNotFound = errors.New("object not found")
	ErrNoPages        = errors.New("document has no pages")
)

// PageRef is a leaf of the page tree.
type PageRef struct {
	Reference  generic.Reference
	Dictionary *generic.DictionaryObject
}

// PdfFileReader gives access to the objects of an in-memory PDF.
type PdfFileReader struct {
	data      []byte
	xref      map[int]XRefEntry
	size      int
	startXRef int64
	repaired  bool
	// xrefStream is set when the newest cross-reference section is a stream.
	xrefStream bool

	Trailer *generic.DictionaryObject
	Root    *generic.DictionaryObject
	RootRef generic.Reference

	pages      []PageRef
	cache      map[int]generic.PdfObject
	objStreams map[int]*objectStream
	resolving  map[int]bool
}

// NewPdfFileReaderFromBytes parses the document structure of data. The slice
// is retained and must not be modified while the reader is in use.
func NewPdfFileReaderFromBytes(data []byte) (*PdfFileReader, error) {
	if !bytes.Contains(data[:min(len(data), 1024)], []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	r := &PdfFileReader{
		data:       data,
		xref:       make(map[int]XRefEntry),
		cache:      make(map[int]generic.PdfObject),
		objStreams: make(map[int]*objectStream),
		resolving:  make(map[int]bool),
	}

	offset, err := r.findStartXRef()
	if err == nil {
		r.startXRef = offset
		err = r.parseXRefChain(offset)
	}
	if err != nil || r.Trailer == nil || r.Trailer.Get("Root") == nil {
		if rerr := r.rebuildXRef(); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		r.repaired = true
		r.startXRef = -1
	}

	if r.Trailer.Has("Encrypt") {
		return nil, ErrEncrypted
	}
	if err := r.loadDocumentStructure(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PdfFileReader) findStartXRef() (int64, error) {
	idx := bytes.LastIndex(r.data, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("%w: startxref not found", ErrBadXRef)
	}
	p := generic.NewParser(r.data)
	p.SetPos(idx + len("startxref"))
	off, err := p.ReadInt()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadXRef, err)
	}
	return off, nil
}

func (r *PdfFileReader) loadDocumentStructure() error {
	ref, ok := r.Trailer.Get("Root").(generic.Reference)
	if !ok {
		return fmt.Errorf("%w: trailer /Root is not a reference", ErrBadXRef)
	}
	root, err := r.GetObject(ref.ObjectNumber)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	r.Root = dictOf(root)
	if r.Root == nil {
		return fmt.Errorf("%w: catalog is not a dictionary", ErrBadXRef)
	}
	r.RootRef = ref
	return r.loadPages()
}

func (r *PdfFileReader) loadPages() error {
	pagesRef, ok := r.Root.Get("Pages").(generic.Reference)
	if !ok {
		return ErrNoPages
	}
	visited := make(map[int]bool)
	var walk func(ref generic.Reference, depth int) error
	walk = func(ref generic.Reference, depth int) error {
		if visited[ref.ObjectNumber] || depth > 64 {
			return fmt.Errorf("%w: page tree cycle at %s", ErrBadXRef, ref)
		}
		visited[ref.ObjectNumber] = true

		obj, err := r.GetObject(ref.ObjectNumber)
		if err != nil {
			return err
		}
		node := dictOf(obj)
		if node == nil {
			return fmt.Errorf("%w: page tree node %s is not a dictionary", ErrBadXRef, ref)
		}
		if node.GetName("Type") == "Page" || !node.Has("Kids") {
			r.pages = append(r.pages, PageRef{Reference: ref, Dictionary: node})
			return nil
		}
		kids, _ := r.Resolve(node.Get("Kids"))
		arr, _ := kids.(generic.ArrayObject)
		for _, kid := range arr {
			kidRef, ok := kid.(generic.Reference)
			if !ok {
				continue
			}
			if err := walk(kidRef, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(pagesRef, 0); err != nil {
		return err
	}
	if len(r.pages) == 0 {
		return ErrNoPages
	}
	return nil
}

// GetObject returns the object with the given number.
func (r *PdfFileReader) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := r.cache[objNum]; ok {
		return obj, nil
	}
	entry, ok := r.xref[objNum]
	if !ok || entry.Type == XRefFree {
		return nil, fmt.Errorf("%w: %d", ErrObjectNotFound, objNum)
	}
	if r.resolving[objNum] {
		return nil, fmt.Errorf("%w: circular reference to %d", ErrBadXRef, objNum)
	}
	r.resolving[objNum] = true
	defer delete(r.resolving, objNum)

	var (
		obj generic.PdfObject
		err error
	)
	switch entry.Type {
	case XRefInUse:
		obj, err = r.objectAt(entry.Offset, objNum)
	case XRefCompressed:
		obj, err = r.objectFromStream(entry.StreamObjNum, entry.Index)
	}
	if err != nil {
		return nil, err
	}
	r.cache[objNum] = obj
	return obj, nil
}

func (r *PdfFileReader) objectAt(offset int64, objNum int) (generic.PdfObject, error) {
	if offset < 0 || offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("%w: object %d offset %d out of range", ErrBadXRef, objNum, offset)
	}
	p := generic.NewParser(r.data)
	p.SetPos(int(offset))
	p.Resolve = func(ref generic.Reference) (generic.PdfObject, error) {
		return r.GetObject(ref.ObjectNumber)
	}
	ind, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", objNum, err)
	}
	if ind.ObjectNumber != objNum {
		return nil, fmt.Errorf("%w: expected object %d at %d, found %d", ErrBadXRef, objNum, offset, ind.ObjectNumber)
	}
	return ind.Object, nil
}

type objectStream struct {
	data    []byte
	first   int
	offsets []int
}

func (r *PdfFileReader) objectFromStream(streamNum, index int) (generic.PdfObject, error) {
	objs, ok := r.objStreams[streamNum]
	if !ok {
		obj, err := r.GetObject(streamNum)
		if err != nil {
			return nil, err
		}
		stream, ok := obj.(*generic.StreamObject)
		if !ok {
			return nil, fmt.Errorf("%w: object stream %d is not a stream", ErrBadXRef, streamNum)
		}
		if objs, err = parseObjectStream(stream); err != nil {
			return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
		}
		r.objStreams[streamNum] = objs
	}
	if index < 0 || index >= len(objs.offsets) {
		return nil, fmt.Errorf("%w: index %d in object stream %d", ErrObjectNotFound, index, streamNum)
	}
	p := generic.NewParser(objs.data)
	p.SetPos(objs.first + objs.offsets[index])
	return p.ParseObject()
}

func parseObjectStream(stream *generic.StreamObject) (*objectStream, error) {
	data, err := filters.DecodeStream(stream)
	if err != nil {
		return nil, err
	}
	n, _ := stream.Dictionary.GetInt("N")
	first, _ := stream.Dictionary.GetInt("First")
	if first < 0 || int(first) > len(data) {
		return nil, fmt.Errorf("%w: bad /First", ErrBadXRef)
	}

	p := generic.NewParser(data[:first])
	objs := &objectStream{data: data, first: int(first)}
	for i := int64(0); i < n; i++ {
		if _, err := p.ReadInt(); err != nil {
			return nil, err
		}
		off, err := p.ReadInt()
		if err != nil {
			return nil, err
		}
		objs.offsets = append(objs.offsets, int(off))
	}
	return objs, nil
}

// Resolve follows obj if it is a reference.
func (r *PdfFileReader) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	for i := 0; i < 32; i++ {
		ref, ok := obj.(generic.Reference)
		if !ok {
			return obj, nil
		}
		var err error
		if obj, err = r.GetObject(ref.ObjectNumber); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: reference chain too long", ErrBadXRef)
}

// ResolveDict resolves obj and returns it as a dictionary, or nil.
func (r *PdfFileReader) ResolveDict(obj generic.PdfObject) *generic.DictionaryObject {
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	return dictOf(resolved)
}

// InheritedAttribute looks up key on a page and its ancestors.
func (r *PdfFileReader) InheritedAttribute(page *generic.DictionaryObject, key string) generic.PdfObject {
	node := page
	for depth := 0; node != nil && depth < 64; depth++ {
		if v := node.Get(key); v != nil {
			return v
		}
		node = r.ResolveDict(node.Get("Parent"))
	}
	return nil
}

// PageCount returns the number of pages.
func (r *PdfFileReader) PageCount() int { return len(r.pages) }

// Page returns the page at index.
func (r *PdfFileReader) Page(index int) (PageRef, error) {
	if index < 0 || index >= len(r.pages) {
		return PageRef{}, fmt.Errorf("page index %d out of range [0,%d)", index, len(r.pages))
	}
	return r.pages[index], nil
}

// LastPage returns the final page of the document.
func (r *PdfFileReader) LastPage() PageRef { return r.pages[len(r.pages)-1] }

// Size is the number of object slots in use; new objects start here.
func (r *PdfFileReader) Size() int {
	size := r.size
	for num := range r.xref {
		if num >= size {
			size = num + 1
		}
	}
	return size
}

// StartXRef returns the offset of the newest cross-reference section, or -1
// when the section was unusable and had to be rebuilt.
func (r *PdfFileReader) StartXRef() int64 { return r.startXRef }

// HasXRefStream reports whether the newest cross-reference section is an
// xref stream rather than a classic table.
func (r *PdfFileReader) HasXRefStream() bool { return r.xrefStream }

// Repaired reports whether the cross-reference data was rebuilt by scanning.
func (r *PdfFileReader) Repaired() bool { return r.repaired }

// InUseObjects returns every object number with an in-use entry and its
// generation and offset. Compressed objects report offset -1.
func (r *PdfFileReader) InUseObjects() map[int]XRefEntry {
	out := make(map[int]XRefEntry, len(r.xref))
	for num, e := range r.xref {
		if e.Type != XRefFree {
			out[num] = e
		}
	}
	return out
}

// Data returns the raw document bytes.
func (r *PdfFileReader) Data() []byte { return r.data }

// Version returns the header version, for example "1.7".
func (r *PdfFileReader) Version() string {
	idx := bytes.Index(r.data, []byte("%PDF-"))
	if idx < 0 || idx+8 > len(r.data) {
		return ""
	}
	v := string(r.data[idx+5 : idx+8])
	if _, err := strconv.ParseFloat(v, 64); err != nil {
		return ""
	}
	return v
}

func dictOf(obj generic.PdfObject) *generic.DictionaryObject {
	switch v := obj.(type) {
	case *generic.DictionaryObject:
		return v
	case *generic.StreamObject:
		return v.Dictionary
	}
	return nil
}
