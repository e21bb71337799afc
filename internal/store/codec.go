package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"

	"github.com/petrel-search/petrel/internal/embed"
)

// Seq blobs are gzip-compressed little-endian payloads. fp16 and fp32 pack
// the raw rows back to back; int8 prepends a per-tensor float32 scale used
// to dequantize. The (T, D) shape travels in the sidecar row, not the blob.

// encodeSeq packs a tensor into a compressed blob at the given precision.
func encodeSeq(t embed.Tensor, precision string) ([]byte, error) {
	if t.Len() == 0 {
		return nil, fmt.Errorf("cannot encode empty tensor")
	}

	var payload []byte
	switch precision {
	case embed.PrecisionFP16:
		payload = packFloat16(t)
	case embed.PrecisionInt8:
		payload = packInt8(t)
	case embed.PrecisionFP32:
		payload = packFloat32(t)
	default:
		return nil, fmt.Errorf("unknown seq precision %q", precision)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compress seq payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish seq compression: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeSeq unpacks a blob produced by encodeSeq back into a tensor of the
// given shape.
func decodeSeq(blob []byte, rows, dim int, precision string) (embed.Tensor, error) {
	if rows <= 0 || dim <= 0 {
		return embed.Tensor{}, fmt.Errorf("invalid seq shape %dx%d", rows, dim)
	}

	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return embed.Tensor{}, fmt.Errorf("open seq payload: %w", err)
	}
	payload, err := io.ReadAll(zr)
	if err != nil {
		return embed.Tensor{}, fmt.Errorf("decompress seq payload: %w", err)
	}
	if err := zr.Close(); err != nil {
		return embed.Tensor{}, fmt.Errorf("close seq reader: %w", err)
	}

	switch precision {
	case embed.PrecisionFP16:
		return unpackFloat16(payload, rows, dim)
	case embed.PrecisionInt8:
		return unpackInt8(payload, rows, dim)
	case embed.PrecisionFP32:
		return unpackFloat32(payload, rows, dim)
	default:
		return embed.Tensor{}, fmt.Errorf("unknown seq precision %q", precision)
	}
}

func packFloat32(t embed.Tensor) []byte {
	payload := make([]byte, t.Len()*t.Dim()*4)
	off := 0
	for i := 0; i < t.Len(); i++ {
		for _, v := range t.Row(i) {
			binary.LittleEndian.PutUint32(payload[off:], math.Float32bits(v))
			off += 4
		}
	}
	return payload
}

func unpackFloat32(payload []byte, rows, dim int) (embed.Tensor, error) {
	want := rows * dim * 4
	if len(payload) != want {
		return embed.Tensor{}, fmt.Errorf("fp32 seq payload is %d bytes, want %d", len(payload), want)
	}
	out := make([][]float32, rows)
	off := 0
	for i := range out {
		row := make([]float32, dim)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
			off += 4
		}
		out[i] = row
	}
	return embed.NewTensor(out)
}

func packFloat16(t embed.Tensor) []byte {
	payload := make([]byte, t.Len()*t.Dim()*2)
	off := 0
	for i := 0; i < t.Len(); i++ {
		for _, v := range t.Row(i) {
			binary.LittleEndian.PutUint16(payload[off:], float16Bits(v))
			off += 2
		}
	}
	return payload
}

func unpackFloat16(payload []byte, rows, dim int) (embed.Tensor, error) {
	want := rows * dim * 2
	if len(payload) != want {
		return embed.Tensor{}, fmt.Errorf("fp16 seq payload is %d bytes, want %d", len(payload), want)
	}
	out := make([][]float32, rows)
	off := 0
	for i := range out {
		row := make([]float32, dim)
		for j := range row {
			row[j] = float16From(binary.LittleEndian.Uint16(payload[off:]))
			off += 2
		}
		out[i] = row
	}
	return embed.NewTensor(out)
}

// packInt8 quantizes symmetrically around zero with one shared scale per
// tensor. Rows are unit length so the scale stays near 1/127.
func packInt8(t embed.Tensor) []byte {
	var maxAbs float64
	for i := 0; i < t.Len(); i++ {
		for _, v := range t.Row(i) {
			if a := math.Abs(float64(v)); a > maxAbs {
				maxAbs = a
			}
		}
	}
	scale := float32(maxAbs / 127)
	if maxAbs == 0 {
		scale = 1
	}

	payload := make([]byte, 4+t.Len()*t.Dim())
	binary.LittleEndian.PutUint32(payload, math.Float32bits(scale))
	off := 4
	for i := 0; i < t.Len(); i++ {
		for _, v := range t.Row(i) {
			q := math.Round(float64(v) / float64(scale))
			if q > 127 {
				q = 127
			} else if q < -127 {
				q = -127
			}
			payload[off] = byte(int8(q))
			off++
		}
	}
	return payload
}

func unpackInt8(payload []byte, rows, dim int) (embed.Tensor, error) {
	want := 4 + rows*dim
	if len(payload) != want {
		return embed.Tensor{}, fmt.Errorf("int8 seq payload is %d bytes, want %d", len(payload), want)
	}
	scale := math.Float32frombits(binary.LittleEndian.Uint32(payload))
	out := make([][]float32, rows)
	off := 4
	for i := range out {
		row := make([]float32, dim)
		for j := range row {
			row[j] = float32(int8(payload[off])) * scale
			off++
		}
		out[i] = row
	}
	return embed.NewTensor(out)
}

// float16Bits converts a float32 to IEEE 754 half-precision bits, rounding
// to nearest. Overflow saturates to infinity, underflow flushes through the
// subnormal range to signed zero.
func float16Bits(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case exp >= 0x1f:
		if exp == 0xff-127+15 && mant != 0 {
			return sign | 0x7e00 // NaN keeps a payload bit
		}
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		mant += 1 << (shift - 1)
		return sign | uint16(mant>>shift)
	default:
		mant += 0x1000
		if mant&0x800000 != 0 {
			mant = 0
			exp++
			if exp >= 0x1f {
				return sign | 0x7c00
			}
		}
		return sign | uint16(exp)<<10 | uint16(mant>>13)
	}
}

// float16From expands IEEE 754 half-precision bits to a float32.
func float16From(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		return math.Float32frombits(sign | e<<23 | mant<<13)
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}
