package generic

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// Common errors
var (
	ErrUnexpectedEOF   = errors.New("unexpected end of data")
	ErrUnexpectedToken = errors.New("unexpected token")
	ErrBadStream       = errors.New("malformed stream")
)

// Parser reads PDF objects from an in-memory document.
type Parser struct {
	data []byte
	pos  int

	// Resolve looks up indirect values, used for stream /Length entries
	// that are references. When nil or failing, the stream extent is found
	// by scanning for the endstream keyword.
	Resolve func(Reference) (PdfObject, error)
}

// NewParser creates a parser positioned at the start of data.
func NewParser(data []byte) *Parser {
	return &Parser{data: data}
}

// Pos returns the current offset.
func (p *Parser) Pos() int { return p.pos }

// SetPos moves the parser to offset.
func (p *Parser) SetPos(offset int) { p.pos = offset }

func (p *Parser) errorf(err error, format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", err, p.pos, fmt.Sprintf(format, args...))
}

// SkipWhitespace skips whitespace and comments.
func (p *Parser) SkipWhitespace() {
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		switch {
		case IsWhitespace(b):
			p.pos++
		case b == '%':
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
		default:
			return
		}
	}
}

// ReadKeyword reads a run of regular characters.
func (p *Parser) ReadKeyword() string {
	p.SkipWhitespace()
	start := p.pos
	for p.pos < len(p.data) && !IsWhitespace(p.data[p.pos]) && !isDelimiter(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// ExpectKeyword reads a keyword and fails unless it equals want.
func (p *Parser) ExpectKeyword(want string) error {
	if got := p.ReadKeyword(); got != want {
		return p.errorf(ErrUnexpectedToken, "expected %q, got %q", want, got)
	}
	return nil
}

// ReadInt reads an integer token.
func (p *Parser) ReadInt() (int64, error) {
	tok := p.ReadKeyword()
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, p.errorf(ErrUnexpectedToken, "expected integer, got %q", tok)
	}
	return v, nil
}

// ParseObject parses the next direct object or indirect reference.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.SkipWhitespace()
	if p.pos >= len(p.data) {
		return nil, ErrUnexpectedEOF
	}

	switch b := p.data[p.pos]; {
	case b == '/':
		return p.parseName()
	case b == '(':
		return p.parseLiteralString()
	case b == '<':
		if p.pos+1 < len(p.data) && p.data[p.pos+1] == '<' {
			return p.parseDictionary()
		}
		return p.parseHexString()
	case b == '[':
		return p.parseArray()
	case b == '+' || b == '-' || b == '.' || (b >= '0' && b <= '9'):
		return p.parseNumberOrReference()
	}

	switch kw := p.ReadKeyword(); kw {
	case "true":
		return BooleanObject(true), nil
	case "false":
		return BooleanObject(false), nil
	case "null":
		return NullObject{}, nil
	default:
		return nil, p.errorf(ErrUnexpectedToken, "%q", kw)
	}
}

func (p *Parser) parseName() (NameObject, error) {
	p.pos++ // '/'
	var buf bytes.Buffer
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if IsWhitespace(b) || isDelimiter(b) {
			break
		}
		if b == '#' && p.pos+2 < len(p.data) {
			if v, err := hex.DecodeString(string(p.data[p.pos+1 : p.pos+3])); err == nil {
				buf.Write(v)
				p.pos += 3
				continue
			}
		}
		buf.WriteByte(b)
		p.pos++
	}
	return NameObject(buf.String()), nil
}

func (p *Parser) parseLiteralString() (*StringObject, error) {
	p.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		p.pos++
		switch b {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return &StringObject{Value: buf.Bytes()}, nil
			}
		case '\\':
			if p.pos >= len(p.data) {
				return nil, ErrUnexpectedEOF
			}
			esc := p.data[p.pos]
			p.pos++
			switch esc {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if p.pos < len(p.data) && p.data[p.pos] == '\n' {
					p.pos++
				}
			case '\n':
			default:
				if esc >= '0' && esc <= '7' {
					v := int(esc - '0')
					for i := 0; i < 2 && p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '7'; i++ {
						v = v*8 + int(p.data[p.pos]-'0')
						p.pos++
					}
					buf.WriteByte(byte(v))
				} else {
					buf.WriteByte(esc)
				}
			}
			continue
		}
		buf.WriteByte(b)
	}
	return nil, ErrUnexpectedEOF
}

func (p *Parser) parseHexString() (*StringObject, error) {
	p.pos++ // '<'
	digits := make([]byte, 0, 64)
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		p.pos++
		if b == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			v, err := hex.DecodeString(string(digits))
			if err != nil {
				return nil, p.errorf(ErrUnexpectedToken, "bad hex string: %v", err)
			}
			return &StringObject{Value: v, IsHex: true}, nil
		}
		if IsWhitespace(b) {
			continue
		}
		digits = append(digits, b)
	}
	return nil, ErrUnexpectedEOF
}

func (p *Parser) parseDictionary() (*DictionaryObject, error) {
	p.pos += 2 // '<<'
	dict := NewDictionary()
	for {
		p.SkipWhitespace()
		if p.pos+1 >= len(p.data) {
			return nil, ErrUnexpectedEOF
		}
		if p.data[p.pos] == '>' && p.data[p.pos+1] == '>' {
			p.pos += 2
			return dict, nil
		}
		if p.data[p.pos] != '/' {
			return nil, p.errorf(ErrUnexpectedToken, "dictionary key must be a name")
		}
		key, err := p.parseName()
		if err != nil {
			return nil, err
		}
		val, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("value of /%s: %w", key, err)
		}
		dict.Set(string(key), val)
	}
}

func (p *Parser) parseArray() (ArrayObject, error) {
	p.pos++ // '['
	arr := ArrayObject{}
	for {
		p.SkipWhitespace()
		if p.pos >= len(p.data) {
			return nil, ErrUnexpectedEOF
		}
		if p.data[p.pos] == ']' {
			p.pos++
			return arr, nil
		}
		item, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		arr = append(arr, item)
	}
}

func (p *Parser) parseNumber() (PdfObject, error) {
	start := p.pos
	isReal := false
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if b == '.' {
			isReal = true
		} else if !(b >= '0' && b <= '9') && !(p.pos == start && (b == '+' || b == '-')) {
			break
		}
		p.pos++
	}
	tok := string(p.data[start:p.pos])
	if isReal {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, p.errorf(ErrUnexpectedToken, "bad real %q", tok)
		}
		return RealObject(v), nil
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return nil, p.errorf(ErrUnexpectedToken, "bad integer %q", tok)
	}
	return IntegerObject(v), nil
}

func (p *Parser) parseNumberOrReference() (PdfObject, error) {
	num, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	objNum, ok := num.(IntegerObject)
	if !ok || objNum < 0 {
		return num, nil
	}

	// "n g R" needs two tokens of lookahead.
	save := p.pos
	p.SkipWhitespace()
	if p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		gen, err := p.parseNumber()
		if g, isInt := gen.(IntegerObject); err == nil && isInt {
			p.SkipWhitespace()
			if p.pos < len(p.data) && p.data[p.pos] == 'R' &&
				(p.pos+1 == len(p.data) || IsWhitespace(p.data[p.pos+1]) || isDelimiter(p.data[p.pos+1])) {
				p.pos++
				return NewReference(int(objNum), int(g)), nil
			}
		}
	}
	p.pos = save
	return num, nil
}

// ParseIndirectObject parses "n g obj ... endobj" at the current offset,
// including a trailing stream body.
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	objNum, err := p.ReadInt()
	if err != nil {
		return nil, err
	}
	gen, err := p.ReadInt()
	if err != nil {
		return nil, err
	}
	if err := p.ExpectKeyword("obj"); err != nil {
		return nil, err
	}
	obj, err := p.ParseObject()
	if err != nil {
		return nil, err
	}

	p.SkipWhitespace()
	if dict, ok := obj.(*DictionaryObject); ok && bytes.HasPrefix(p.data[p.pos:], []byte("stream")) {
		data, err := p.readStreamBody(dict)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", objNum, err)
		}
		obj = &StreamObject{Dictionary: dict, Data: data}
	}

	// A missing endobj is tolerated.
	save := p.pos
	if p.ReadKeyword() != "endobj" {
		p.pos = save
	}
	return &IndirectObject{Reference: NewReference(int(objNum), int(gen)), Object: obj}, nil
}

var endstream = []byte("endstream")

func (p *Parser) readStreamBody(dict *DictionaryObject) ([]byte, error) {
	p.pos += len("stream")
	if p.pos < len(p.data) && p.data[p.pos] == '\r' {
		p.pos++
	}
	if p.pos < len(p.data) && p.data[p.pos] == '\n' {
		p.pos++
	}
	start := p.pos

	if length, ok := p.streamLength(dict); ok && length >= 0 && start+length <= len(p.data) {
		end := start + length
		q := &Parser{data: p.data, pos: end}
		q.SkipWhitespace()
		if bytes.HasPrefix(p.data[q.pos:], endstream) {
			p.pos = q.pos + len(endstream)
			return p.data[start:end], nil
		}
	}

	idx := bytes.Index(p.data[start:], endstream)
	if idx < 0 {
		return nil, ErrBadStream
	}
	end := start + idx
	if end > start && p.data[end-1] == '\n' {
		end--
	}
	if end > start && p.data[end-1] == '\r' {
		end--
	}
	p.pos = start + idx + len(endstream)
	return p.data[start:end], nil
}

func (p *Parser) streamLength(dict *DictionaryObject) (int, bool) {
	switch v := dict.Get("Length").(type) {
	case IntegerObject:
		return int(v), true
	case Reference:
		if p.Resolve == nil {
			return 0, false
		}
		obj, err := p.Resolve(v)
		if err != nil {
			return 0, false
		}
		if n, ok := obj.(IntegerObject); ok {
			return int(n), true
		}
	}
	return 0, false
}
