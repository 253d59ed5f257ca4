// Package filters decodes and encodes PDF stream data. Only the filters
// found on document structure streams (xref and object streams) are
// supported: FlateDecode with optional PNG predictors.
package filters

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/casetrack/casesign/pdf/generic"
)

// ErrUnsupportedFilter is returned for stream filters other than FlateDecode.
var ErrUnsupportedFilter = errors.New("unsupported stream filter")

// DecodeStream returns the decoded content of stream.
func DecodeStream(stream *generic.StreamObject) ([]byte, error) {
	names, params := filterChain(stream.Dictionary)
	data := stream.Data
	for i, name := range names {
		switch name {
		case "FlateDecode", "Fl":
			decoded, err := FlateDecode(data)
			if err != nil {
				return nil, err
			}
			var p *generic.DictionaryObject
			if i < len(params) {
				p = params[i]
			}
			if data, err = applyPredictor(decoded, p); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
		}
	}
	return data, nil
}

func filterChain(dict *generic.DictionaryObject) ([]string, []*generic.DictionaryObject) {
	var (
		names  []string
		params []*generic.DictionaryObject
	)
	switch f := dict.Get("Filter").(type) {
	case generic.NameObject:
		names = []string{string(f)}
	case generic.ArrayObject:
		for _, item := range f {
			if n, ok := item.(generic.NameObject); ok {
				names = append(names, string(n))
			}
		}
	}
	switch p := dict.Get("DecodeParms").(type) {
	case *generic.DictionaryObject:
		params = []*generic.DictionaryObject{p}
	case generic.ArrayObject:
		for _, item := range p {
			d, _ := item.(*generic.DictionaryObject)
			params = append(params, d)
		}
	}
	return names, params
}

// FlateDecode inflates zlib data.
func FlateDecode(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("flate decode: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("flate decode: %w", err)
	}
	return out, nil
}

// FlateEncode deflates data with zlib framing.
func FlateEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func intParam(d *generic.DictionaryObject, key string, def int) int {
	if d == nil {
		return def
	}
	if v, ok := d.GetInt(key); ok {
		return int(v)
	}
	return def
}

func applyPredictor(data []byte, params *generic.DictionaryObject) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor < 10 {
		if predictor != 1 {
			return nil, fmt.Errorf("%w: predictor %d", ErrUnsupportedFilter, predictor)
		}
		return data, nil
	}

	columns := intParam(params, "Columns", 1)
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)

	bytesPerPixel := (colors*bpc + 7) / 8
	rowLength := (columns*colors*bpc + 7) / 8
	return decodePNGRows(data, rowLength, bytesPerPixel)
}

// decodePNGRows reverses PNG row filtering; every row is prefixed with its
// filter type byte.
func decodePNGRows(data []byte, rowLength, bpp int) ([]byte, error) {
	stride := rowLength + 1
	out := make([]byte, 0, len(data)/stride*rowLength)
	prev := make([]byte, rowLength)

	for i := 0; i+stride <= len(data); i += stride {
		ft := data[i]
		row := make([]byte, rowLength)
		copy(row, data[i+1:i+stride])

		for j := range row {
			var left, upLeft byte
			if j >= bpp {
				left = row[j-bpp]
				upLeft = prev[j-bpp]
			}
			up := prev[j]
			switch ft {
			case 0:
			case 1:
				row[j] += left
			case 2:
				row[j] += up
			case 3:
				row[j] += byte((int(left) + int(up)) / 2)
			case 4:
				row[j] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("%w: PNG filter type %d", ErrUnsupportedFilter, ft)
			}
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
