package generic

import (
	"errors"
	"io"
)

// IsWhitespace reports whether b is a PDF whitespace character.
func IsWhitespace(b byte) bool {
	switch b {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}

func isDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// SeekableBuffer is an in-memory io.WriteSeeker. Writes past the end grow the
// buffer; writes before the end overwrite in place.
type SeekableBuffer struct {
	data []byte
	pos  int
}

// NewSeekableBuffer creates a buffer whose initial content is a copy of data,
// positioned at its end.
func NewSeekableBuffer(data []byte) *SeekableBuffer {
	buf := make([]byte, len(data), len(data)+64*1024)
	copy(buf, data)
	return &SeekableBuffer{data: buf, pos: len(buf)}
}

func (s *SeekableBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.data) {
		s.data = append(s.data[:s.pos], p...)
	} else {
		copy(s.data[s.pos:], p)
	}
	s.pos = end
	return len(p), nil
}

func (s *SeekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.data)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 || abs > int64(len(s.data)) {
		return 0, errors.New("seek out of range")
	}
	s.pos = int(abs)
	return abs, nil
}

// Bytes returns the buffer content.
func (s *SeekableBuffer) Bytes() []byte { return s.data }

// Len returns the buffer length.
func (s *SeekableBuffer) Len() int { return len(s.data) }
