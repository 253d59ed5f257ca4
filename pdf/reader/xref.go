package reader

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"

	"github.com/casetrack/casesign/pdf/filters"
	"github.com/casetrack/casesign/pdf/generic"
)

// XRefType is the kind of a cross-reference entry.
type XRefType int

const (
	XRefFree XRefType = iota
	XRefInUse
	XRefCompressed
)

// XRefEntry locates one object. For compressed entries StreamObjNum and
// Index identify the containing object stream.
type XRefEntry struct {
	Type         XRefType
	Offset       int64
	Generation   int
	StreamObjNum int
	Index        int
}

// parseXRefChain walks the cross-reference sections starting at offset and
// following /Prev. Entries from newer sections win.
func (r *PdfFileReader) parseXRefChain(offset int64) error {
	visited := make(map[int64]bool)
	for offset >= 0 {
		if visited[offset] {
			return fmt.Errorf("%w: /Prev loop at %d", ErrBadXRef, offset)
		}
		visited[offset] = true
		if offset >= int64(len(r.data)) {
			return fmt.Errorf("%w: offset %d past end of file", ErrBadXRef, offset)
		}

		var (
			trailer *generic.DictionaryObject
			err     error
		)
		if bytes.HasPrefix(r.data[offset:], []byte("xref")) {
			trailer, err = r.parseXRefTable(offset)
			if err == nil {
				if stm, ok := trailer.GetInt("XRefStm"); ok {
					if _, err := r.parseXRefStream(stm); err != nil {
						return err
					}
				}
			}
		} else {
			trailer, err = r.parseXRefStream(offset)
			if len(visited) == 1 {
				r.xrefStream = true
			}
		}
		if err != nil {
			return err
		}
		if r.Trailer == nil {
			r.Trailer = trailer
		}
		if size, ok := trailer.GetInt("Size"); ok && int(size) > r.size {
			r.size = int(size)
		}

		prev, ok := trailer.GetInt("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	return nil
}

func (r *PdfFileReader) addEntry(objNum int, e XRefEntry) {
	if _, exists := r.xref[objNum]; !exists {
		r.xref[objNum] = e
	}
}

func (r *PdfFileReader) parseXRefTable(offset int64) (*generic.DictionaryObject, error) {
	p := generic.NewParser(r.data)
	p.SetPos(int(offset) + len("xref"))

	for {
		save := p.Pos()
		if kw := p.ReadKeyword(); kw == "trailer" {
			break
		}
		p.SetPos(save)

		start, err := p.ReadInt()
		if err != nil {
			return nil, fmt.Errorf("%w: subsection header: %v", ErrBadXRef, err)
		}
		count, err := p.ReadInt()
		if err != nil {
			return nil, fmt.Errorf("%w: subsection header: %v", ErrBadXRef, err)
		}
		for i := int64(0); i < count; i++ {
			off, err := p.ReadInt()
			if err != nil {
				return nil, fmt.Errorf("%w: entry %d: %v", ErrBadXRef, start+i, err)
			}
			gen, err := p.ReadInt()
			if err != nil {
				return nil, fmt.Errorf("%w: entry %d: %v", ErrBadXRef, start+i, err)
			}
			switch kind := p.ReadKeyword(); kind {
			case "n":
				r.addEntry(int(start+i), XRefEntry{Type: XRefInUse, Offset: off, Generation: int(gen)})
			case "f":
				r.addEntry(int(start+i), XRefEntry{Type: XRefFree, Generation: int(gen)})
			default:
				return nil, fmt.Errorf("%w: entry type %q", ErrBadXRef, kind)
			}
		}
	}

	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("%w: trailer: %v", ErrBadXRef, err)
	}
	trailer, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: trailer is not a dictionary", ErrBadXRef)
	}
	return trailer, nil
}

func (r *PdfFileReader) parseXRefStream(offset int64) (*generic.DictionaryObject, error) {
	p := generic.NewParser(r.data)
	p.SetPos(int(offset))
	ind, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("%w: xref stream at %d: %v", ErrBadXRef, offset, err)
	}
	stream, ok := ind.Object.(*generic.StreamObject)
	if !ok || stream.Dictionary.GetName("Type") != "XRef" {
		return nil, fmt.Errorf("%w: no xref stream at %d", ErrBadXRef, offset)
	}

	data, err := filters.DecodeStream(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadXRef, err)
	}

	wArr, _ := stream.Dictionary.Get("W").(generic.ArrayObject)
	if len(wArr) != 3 {
		return nil, fmt.Errorf("%w: /W must have three entries", ErrBadXRef)
	}
	var w [3]int
	for i, v := range wArr {
		n, ok := v.(generic.IntegerObject)
		if !ok || n < 0 || n > 8 {
			return nil, fmt.Errorf("%w: bad /W entry", ErrBadXRef)
		}
		w[i] = int(n)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, fmt.Errorf("%w: empty /W", ErrBadXRef)
	}

	size, _ := stream.Dictionary.GetInt("Size")
	index := []int64{0, size}
	if idx, ok := stream.Dictionary.Get("Index").(generic.ArrayObject); ok {
		index = index[:0]
		for _, v := range idx {
			if n, ok := v.(generic.IntegerObject); ok {
				index = append(index, int64(n))
			}
		}
	}

	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := int64(0); j < count; j++ {
			if pos+rowLen > len(data) {
				return nil, fmt.Errorf("%w: xref stream truncated", ErrBadXRef)
			}
			row := data[pos : pos+rowLen]
			pos += rowLen

			typ := int64(1)
			if w[0] > 0 {
				typ = readField(row[:w[0]])
			}
			f2 := readField(row[w[0] : w[0]+w[1]])
			f3 := readField(row[w[0]+w[1]:])

			objNum := int(start + j)
			switch typ {
			case 0:
				r.addEntry(objNum, XRefEntry{Type: XRefFree, Generation: int(f3)})
			case 1:
				r.addEntry(objNum, XRefEntry{Type: XRefInUse, Offset: f2, Generation: int(f3)})
			case 2:
				r.addEntry(objNum, XRefEntry{Type: XRefCompressed, StreamObjNum: int(f2), Index: int(f3)})
			}
		}
	}
	return stream.Dictionary, nil
}

func readField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

var objHeader = regexp.MustCompile(`(?m)(?:^|[\r\n\s])(\d+)\s+(\d+)\s+obj\b`)

// rebuildXRef recovers object offsets by scanning for "n g obj" headers when
// the cross-reference data is unusable. The last definition of an object wins.
func (r *PdfFileReader) rebuildXRef() error {
	r.xref = make(map[int]XRefEntry)
	r.Trailer = nil
	r.xrefStream = false
	for _, m := range objHeader.FindAllSubmatchIndex(r.data, -1) {
		num, err1 := strconv.Atoi(string(r.data[m[2]:m[3]]))
		gen, err2 := strconv.Atoi(string(r.data[m[4]:m[5]]))
		if err1 != nil || err2 != nil {
			continue
		}
		r.xref[num] = XRefEntry{Type: XRefInUse, Offset: int64(m[2]), Generation: gen}
		if num >= r.size {
			r.size = num + 1
		}
	}
	if len(r.xref) == 0 {
		return fmt.Errorf("%w: no objects found", ErrBadXRef)
	}

	if idx := bytes.LastIndex(r.data, []byte("trailer")); idx >= 0 {
		p := generic.NewParser(r.data)
		p.SetPos(idx + len("trailer"))
		if obj, err := p.ParseObject(); err == nil {
			if d, ok := obj.(*generic.DictionaryObject); ok {
				r.Trailer = d
			}
		}
	}
	if r.Trailer == nil {
		for num := range r.xref {
			obj, err := r.GetObject(num)
			if err != nil {
				continue
			}
			if d := dictOf(obj); d != nil && d.GetName("Type") == "Catalog" {
				r.Trailer = generic.NewDictionary()
				r.Trailer.Set("Root", generic.NewReference(num, r.xref[num].Generation))
				break
			}
		}
	}
	if r.Trailer == nil {
		return fmt.Errorf("%w: no trailer or catalog found", ErrBadXRef)
	}
	r.Trailer.Set("Size", generic.IntegerObject(r.size))
	return nil
}
