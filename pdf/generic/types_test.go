package generic

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, obj PdfObject) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, obj.Write(&buf))
	return buf.String()
}

func TestWriteObjects(t *testing.T) {
	tests := []struct {
		name string
		obj  PdfObject
		want string
	}{
		{"null", NullObject{}, "null"},
		{"bool", BooleanObject(true), "true"},
		{"int", IntegerObject(-12), "-12"},
		{"real", RealObject(0.25), "0.25"},
		{"name", NameObject("Adobe.PPKLite"), "/Adobe.PPKLite"},
		{"name escape", NameObject("A B#"), "/A#20B#23"},
		{"ref", NewReference(5, 1), "5 1 R"},
		{"literal", NewLiteralString("a(b)\\"), `(a\(b\)\\)`},
		{"literal binary", NewLiteralString("\x01\xff"), `(\001\377)`},
		{"hex", NewHexString([]byte{0xde, 0xad}), "<dead>"},
		{"array", ArrayObject{IntegerObject(1), NameObject("X")}, "[1 /X]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, tt.obj))
		})
	}
}

func TestTextString(t *testing.T) {
	ascii := NewTextString("Records Office")
	assert.Equal(t, []byte("Records Office"), ascii.Value)
	assert.Equal(t, "Records Office", ascii.Text())

	accented := NewTextString("Zoë")
	assert.Equal(t, []byte{0xFE, 0xFF, 0x00, 'Z', 0x00, 'o', 0x00, 0xEB}, accented.Value)
	assert.Equal(t, "Zoë", accented.Text())

	// Decomposed input is normalised to the composed form.
	decomposed := NewTextString("Zoe\u0308")
	assert.Equal(t, accented.Value, decomposed.Value)

	// Bytes without a BOM are read as PDFDocEncoding/Latin-1.
	latin := &StringObject{Value: []byte{'c', 'a', 'f', 0xE9}}
	assert.Equal(t, "café", latin.Text())
}

func TestDictionaryOperations(t *testing.T) {
	d := NewDictionary()
	d.Set("B", IntegerObject(1))
	d.Set("A", IntegerObject(2))
	d.Set("B", IntegerObject(3))

	assert.Equal(t, []string{"B", "A"}, d.Keys())
	assert.Equal(t, []string{"A", "B"}, d.SortedKeys())
	assert.Equal(t, IntegerObject(3), d.Get("B"))
	assert.Equal(t, "<</B 3/A 2>>", render(t, d))

	clone := d.Clone()
	clone.Set("C", NullObject{})
	assert.False(t, d.Has("C"))

	d.Delete("B")
	assert.Equal(t, []string{"A"}, d.Keys())
	d.Delete("missing")

	var nilDict *DictionaryObject
	assert.Nil(t, nilDict.Get("A"))
	assert.Equal(t, "", nilDict.GetName("A"))
}

func TestStreamWriteSetsLength(t *testing.T) {
	s := NewStream(nil, []byte("abc"))
	s.Data = []byte("abcdef")
	out := render(t, s)
	assert.Equal(t, "<</Length 6>>\nstream\nabcdef\nendstream", out)
}

func TestIndirectObjectWrite(t *testing.T) {
	ind := &IndirectObject{Reference: NewReference(4, 0), Object: IntegerObject(9)}
	assert.Equal(t, "4 0 obj\n9\nendobj\n", render(t, ind))
}

func TestSeekableBuffer(t *testing.T) {
	buf := NewSeekableBuffer([]byte("hello"))
	_, err := buf.Write([]byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf.Bytes()))

	_, err = buf.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = buf.Write([]byte("HE"))
	require.NoError(t, err)
	assert.Equal(t, "HEllo world", string(buf.Bytes()))

	pos, err := buf.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(9), pos)
	_, err = buf.Write([]byte("LD!!"))
	require.NoError(t, err)
	assert.Equal(t, "HEllo worLD!!", string(buf.Bytes()))
	assert.Equal(t, 13, buf.Len())

	_, err = buf.Seek(100, io.SeekStart)
	assert.Error(t, err)
	_, err = buf.Seek(0, 42)
	assert.Error(t, err)
}

func TestNewSeekableBufferCopies(t *testing.T) {
	src := []byte("abc")
	buf := NewSeekableBuffer(src)
	_, _ = buf.Seek(0, io.SeekStart)
	_, _ = buf.Write([]byte("X"))
	assert.Equal(t, "abc", string(src))
}
