package waveform

// Minimal MAT-file (Level 5) reader: just enough to pull double- or
// single-precision real/complex matrices out of capture exports. Compressed
// elements are inflated; non-numeric classes are skipped.

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/otalab/rxsweep/pkg/rferr"
)

// MAT5 data types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
)

// MAT5 array classes.
const (
	mxDOUBLE = 6
	mxSINGLE = 7
)

const complexFlag = 0x0800

// matArray is one numeric matrix from a MAT file. Data is flattened
// column-major; Imag is nil for real matrices.
type matArray struct {
	Name string
	Rows int
	Cols int
	Real []float64
	Imag []float64
}

type matElement struct {
	typ  uint32
	data []byte
}

// readMat parses all top-level numeric matrices from a MAT-file image.
func readMat(data []byte) ([]matArray, error) {
	if len(data) < 128 {
		return nil, fmt.Errorf("%w: MAT file too small", rferr.ErrFormat)
	}

	var order binary.ByteOrder
	switch string(data[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad MAT endian indicator %q", rferr.ErrFormat, data[126:128])
	}

	var arrays []matArray
	body := data[128:]
	for len(body) > 0 {
		elem, rest, err := readElement(body, order)
		if err != nil {
			return nil, err
		}
		body = rest

		switch elem.typ {
		case miCOMPRESSED:
			zr, err := zlib.NewReader(bytes.NewReader(elem.data))
			if err != nil {
				return nil, fmt.Errorf("%w: inflate MAT element: %v", rferr.ErrFormat, err)
			}
			inflated, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: inflate MAT element: %v", rferr.ErrFormat, err)
			}
			inner, _, err := readElement(inflated, order)
			if err != nil {
				return nil, err
			}
			if inner.typ == miMATRIX {
				if arr, ok, err := parseMatrix(inner.data, order); err != nil {
					return nil, err
				} else if ok {
					arrays = append(arrays, arr)
				}
			}
		case miMATRIX:
			if arr, ok, err := parseMatrix(elem.data, order); err != nil {
				return nil, err
			} else if ok {
				arrays = append(arrays, arr)
			}
		}
	}
	return arrays, nil
}

// readElement consumes one tagged element, handling the small-element
// format, and returns the remaining bytes after 8-byte alignment padding.
func readElement(b []byte, order binary.ByteOrder) (matElement, []byte, error) {
	if len(b) < 8 {
		return matElement{}, nil, fmt.Errorf("%w: truncated MAT element tag", rferr.ErrFormat)
	}

	typ := order.Uint32(b)
	if typ&0xFFFF0000 != 0 {
		// Small data element: size and type share the first word,
		// payload lives in the second.
		size := typ >> 16
		typ &= 0xFFFF
		if size > 4 {
			return matElement{}, nil, fmt.Errorf("%w: bad small element size %d", rferr.ErrFormat, size)
		}
		return matElement{typ: typ, data: b[4 : 4+size]}, b[8:], nil
	}

	size := order.Uint32(b[4:])
	end := 8 + int(size)
	if end > len(b) {
		return matElement{}, nil, fmt.Errorf("%w: MAT element overruns file (%d > %d)", rferr.ErrFormat, end, len(b))
	}

	next := end
	if pad := next % 8; pad != 0 {
		next += 8 - pad
	}
	if next > len(b) {
		next = len(b)
	}
	return matElement{typ: typ, data: b[8:end]}, b[next:], nil
}

// parseMatrix decodes a miMATRIX body. Returns ok=false for classes the
// loader does not care about.
func parseMatrix(b []byte, order binary.ByteOrder) (matArray, bool, error) {
	flags, rest, err := readElement(b, order)
	if err != nil {
		return matArray{}, false, err
	}
	if len(flags.data) < 4 {
		return matArray{}, false, fmt.Errorf("%w: short array flags", rferr.ErrFormat)
	}
	flagWord := order.Uint32(flags.data)
	class := flagWord & 0xFF
	isComplex := flagWord&complexFlag != 0

	dims, rest, err := readElement(rest, order)
	if err != nil {
		return matArray{}, false, err
	}
	nameElem, rest, err := readElement(rest, order)
	if err != nil {
		return matArray{}, false, err
	}
	name := string(nameElem.data)

	if class != mxDOUBLE && class != mxSINGLE {
		return matArray{}, false, nil
	}

	rows, cols := 0, 0
	if len(dims.data) >= 8 {
		rows = int(int32(order.Uint32(dims.data)))
		cols = int(int32(order.Uint32(dims.data[4:])))
	}

	realElem, rest, err := readElement(rest, order)
	if err != nil {
		return matArray{}, false, err
	}
	re, err := decodeNumeric(realElem, order)
	if err != nil {
		return matArray{}, false, err
	}

	arr := matArray{Name: name, Rows: rows, Cols: cols, Real: re}
	if isComplex {
		imagElem, _, err := readElement(rest, order)
		if err != nil {
			return matArray{}, false, err
		}
		im, err := decodeNumeric(imagElem, order)
		if err != nil {
			return matArray{}, false, err
		}
		arr.Imag = im
	}
	return arr, true, nil
}

// decodeNumeric widens a numeric data element to float64.
func decodeNumeric(e matElement, order binary.ByteOrder) ([]float64, error) {
	b := e.data
	switch e.typ {
	case miDOUBLE:
		out := make([]float64, len(b)/8)
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(b[i*8:]))
		}
		return out, nil
	case miSINGLE:
		out := make([]float64, len(b)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(order.Uint32(b[i*4:])))
		}
		return out, nil
	case miINT16:
		out := make([]float64, len(b)/2)
		for i := range out {
			out[i] = float64(int16(order.Uint16(b[i*2:])))
		}
		return out, nil
	case miINT32:
		out := make([]float64, len(b)/4)
		for i := range out {
			out[i] = float64(int32(order.Uint32(b[i*4:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported MAT numeric type %d", rferr.ErrFormat, e.typ)
	}
}
