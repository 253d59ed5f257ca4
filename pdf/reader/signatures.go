package reader

import (
	"errors"
	"fmt"

	"github.com/casetrack/casesign/pdf/generic"
)

// ErrBadByteRange is returned when a signature's /ByteRange is unusable.
var ErrBadByteRange = errors.New("invalid /ByteRange")

// EmbeddedSignature is a signature value found in the document's form.
type EmbeddedSignature struct {
	FieldName  string
	Dictionary *generic.DictionaryObject
	ByteRange  []int64
	// Contents is the decoded /Contents string including any zero padding.
	Contents []byte
}

// SubFilter returns the /SubFilter name.
func (e *EmbeddedSignature) SubFilter() string { return e.Dictionary.GetName("SubFilter") }

func (e *EmbeddedSignature) text(key string) string {
	if s, ok := e.Dictionary.Get(key).(*generic.StringObject); ok {
		return s.Text()
	}
	return ""
}

// Name returns the /Name entry.
func (e *EmbeddedSignature) Name() string { return e.text("Name") }

// Reason returns the /Reason entry.
func (e *EmbeddedSignature) Reason() string { return e.text("Reason") }

// Location returns the /Location entry.
func (e *EmbeddedSignature) Location() string { return e.text("Location") }

// SigningTime returns the raw /M date string.
func (e *EmbeddedSignature) SigningTime() string { return e.text("M") }

// SignedContent concatenates the byte ranges of data covered by the signature.
func (e *EmbeddedSignature) SignedContent(data []byte) ([]byte, error) {
	if len(e.ByteRange) == 0 || len(e.ByteRange)%2 != 0 {
		return nil, fmt.Errorf("%w: %d entries", ErrBadByteRange, len(e.ByteRange))
	}
	var total int64
	for i := 0; i < len(e.ByteRange); i += 2 {
		off, n := e.ByteRange[i], e.ByteRange[i+1]
		if off < 0 || n < 0 || off+n > int64(len(data)) {
			return nil, fmt.Errorf("%w: [%d %d] outside file of %d bytes", ErrBadByteRange, off, n, len(data))
		}
		total += n
	}
	out := make([]byte, 0, total)
	for i := 0; i < len(e.ByteRange); i += 2 {
		off, n := e.ByteRange[i], e.ByteRange[i+1]
		out = append(out, data[off:off+n]...)
	}
	return out, nil
}

// CoversWholeFile reports whether the byte range spans the file from the
// first byte to the last with a single gap.
func (e *EmbeddedSignature) CoversWholeFile(size int64) bool {
	br := e.ByteRange
	return len(br) == 4 && br[0] == 0 && br[1] < br[2] && br[2]+br[3] == size
}

// EmbeddedSignatures returns every filled signature field, in form order.
func (r *PdfFileReader) EmbeddedSignatures() ([]*EmbeddedSignature, error) {
	acroForm := r.ResolveDict(r.Root.Get("AcroForm"))
	if acroForm == nil {
		return nil, nil
	}
	fieldsObj, err := r.Resolve(acroForm.Get("Fields"))
	if err != nil {
		return nil, err
	}
	fields, _ := fieldsObj.(generic.ArrayObject)

	var sigs []*EmbeddedSignature
	visited := make(map[int]bool)
	var walk func(obj generic.PdfObject, parentName string, depth int) error
	walk = func(obj generic.PdfObject, parentName string, depth int) error {
		if ref, ok := obj.(generic.Reference); ok {
			if visited[ref.ObjectNumber] {
				return nil
			}
			visited[ref.ObjectNumber] = true
		}
		field := r.ResolveDict(obj)
		if field == nil || depth > 32 {
			return nil
		}

		name := parentName
		if t, ok := field.Get("T").(*generic.StringObject); ok {
			if name != "" {
				name += "."
			}
			name += t.Text()
		}

		if field.GetName("FT") == "Sig" {
			if v := r.ResolveDict(field.Get("V")); v != nil {
				sig, err := newEmbeddedSignature(name, v)
				if err != nil {
					return err
				}
				sigs = append(sigs, sig)
			}
		}

		kidsObj, _ := r.Resolve(field.Get("Kids"))
		kids, _ := kidsObj.(generic.ArrayObject)
		for _, kid := range kids {
			if err := walk(kid, name, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	for _, f := range fields {
		if err := walk(f, "", 0); err != nil {
			return nil, err
		}
	}
	return sigs, nil
}

func newEmbeddedSignature(name string, v *generic.DictionaryObject) (*EmbeddedSignature, error) {
	sig := &EmbeddedSignature{FieldName: name, Dictionary: v}
	arr, ok := v.Get("ByteRange").(generic.ArrayObject)
	if !ok {
		return nil, fmt.Errorf("%w: field %q has none", ErrBadByteRange, name)
	}
	for _, item := range arr {
		n, ok := item.(generic.IntegerObject)
		if !ok {
			return nil, fmt.Errorf("%w: non-integer entry in field %q", ErrBadByteRange, name)
		}
		sig.ByteRange = append(sig.ByteRange, int64(n))
	}
	if contents, ok := v.Get("Contents").(*generic.StringObject); ok {
		sig.Contents = contents.Value
	}
	return sig, nil
}
