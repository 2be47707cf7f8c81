// Package waveform converts IQ sample sources into the signal generator's
// native format: big-endian interleaved int16 pairs, one IQ pair per 4 bytes.
// Pre-formatted .WAVEFORM files pass through after validation; numeric
// MAT-file captures are scaled and encoded.
package waveform

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/otalab/rxsweep/pkg/rferr"
)

// MinSamples is the smallest sample-pair count the instrument accepts.
const MinSamples = 60

// fullScale is the int16 positive full-scale value the encoder maps onto.
const fullScale = 32767

// Info describes a loaded waveform buffer.
type Info struct {
	FileName string `json:"file_name"`
	FileSize int    `json:"file_size"`
	// Number of IQ sample pairs (each pair = 4 bytes: 2x int16).
	SampleCount int `json:"sample_count"`
}

// LoadRaw validates a pre-formatted waveform buffer and derives its metadata.
// The bytes pass through unchanged.
func LoadRaw(data []byte, name string) ([]byte, Info, error) {
	if len(data) < 4 {
		return nil, Info{}, fmt.Errorf("%w: waveform too small, need at least one IQ pair", rferr.ErrFormat)
	}
	if len(data)%4 != 0 {
		return nil, Info{}, fmt.Errorf("%w: waveform size %d is not a multiple of 4 bytes", rferr.ErrFormat, len(data))
	}

	return data, Info{
		FileName:    name,
		FileSize:    len(data),
		SampleCount: len(data) / 4,
	}, nil
}

// scaleFor auto-ranges floating-point IQ into the encoder's integer domain
// based on the peak magnitude across both component arrays.
func scaleFor(re, im []float64) float64 {
	var peak float64
	if len(re) > 0 {
		peak = floats.Norm(re, math.Inf(1))
	}
	if len(im) > 0 {
		peak = math.Max(peak, floats.Norm(im, math.Inf(1)))
	}

	switch {
	case peak < 1.0:
		return 2047
	case peak < 10.0:
		return 443
	default:
		return 1
	}
}

// Encode converts one IQ path into device-native bytes. It appends the
// inter-frame silence required by the receiver (frameIntervalUs * bwMHz * 2
// zero samples), pads to 2-sample granularity, auto-ranges, and emits each
// sample as round-then-clamp big-endian int16, I before Q.
func Encode(re, im []float64, bwMHz, frameIntervalUs int) ([]byte, error) {
	if len(re) != len(im) {
		return nil, fmt.Errorf("%w: real/imag length mismatch (%d vs %d)", rferr.ErrFormat, len(re), len(im))
	}

	silence := frameIntervalUs * bwMHz * 2
	n := len(re) + silence
	if n%2 != 0 {
		n++
	}
	if n < MinSamples {
		return nil, fmt.Errorf("%w: waveform has %d samples after padding, need at least %d", rferr.ErrValidation, n, MinSamples)
	}

	mult := scaleFor(re, im) * fullScale / 2047

	out := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		var iVal, qVal float64
		if i < len(re) {
			iVal = re[i] * mult
			qVal = im[i] * mult
		}
		out = binary.BigEndian.AppendUint16(out, uint16(clampInt16(math.Round(iVal))))
		out = binary.BigEndian.AppendUint16(out, uint16(clampInt16(math.Round(qVal))))
	}
	return out, nil
}

// clampInt16 saturates an already-rounded value to the int16 range. The
// round-before-clamp order is load-bearing for samples near full scale.
func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// firstRow extracts row 0 of a column-major rows x cols matrix flattened
// into data. Captures with multiple paths store one path per row; only the
// first is used.
func firstRow(data []float64, rows int) []float64 {
	if rows <= 1 {
		return data
	}
	out := make([]float64, 0, (len(data)+rows-1)/rows)
	for i := 0; i < len(data); i += rows {
		out = append(out, data[i])
	}
	return out
}

// LoadFile loads a waveform from disk, dispatching on the file extension:
// .WAVEFORM buffers pass through LoadRaw; .MAT captures go through the
// numeric encoder with the given bandwidth and frame interval.
func LoadFile(path string, bwMHz, frameIntervalUs int) ([]byte, Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: read %s: %v", rferr.ErrIO, path, err)
	}

	name := filepath.Base(path)
	switch strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "WAVEFORM":
		return LoadRaw(data, name)
	case "MAT":
		return loadNumeric(data, name, bwMHz, frameIntervalUs)
	default:
		return nil, Info{}, fmt.Errorf("%w: unsupported file format %q, expected .WAVEFORM or .MAT", rferr.ErrValidation, filepath.Ext(path))
	}
}

// loadNumeric selects the first usable numeric array from a MAT capture and
// encodes its first path.
func loadNumeric(data []byte, name string, bwMHz, frameIntervalUs int) ([]byte, Info, error) {
	arrays, err := readMat(data)
	if err != nil {
		return nil, Info{}, err
	}

	arr, err := selectArray(arrays)
	if err != nil {
		return nil, Info{}, err
	}

	re := firstRow(arr.Real, arr.Rows)
	im := arr.Imag
	if im == nil {
		im = make([]float64, len(arr.Real))
	}
	im = firstRow(im, arr.Rows)

	encoded, err := Encode(re, im, bwMHz, frameIntervalUs)
	if err != nil {
		return nil, Info{}, err
	}

	return encoded, Info{
		FileName:    name,
		FileSize:    len(encoded),
		SampleCount: len(encoded) / 4,
	}, nil
}

// selectArray picks the first array with more than one element whose name is
// not reserved metadata.
func selectArray(arrays []matArray) (matArray, error) {
	for _, arr := range arrays {
		if len(arr.Real) <= 1 {
			continue
		}
		if strings.HasPrefix(arr.Name, "__") {
			continue
		}
		return arr, nil
	}
	return matArray{}, fmt.Errorf("%w: no numeric IQ array found in file", rferr.ErrFormat)
}
