package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector serializes a float32 vector to little-endian bytes for
// BLOB storage.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector deserializes a BLOB back into a float32 vector.
// dimension validates the buffer size.
func decodeVector(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if len(buf) != dimension*4 {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", dimension*4, len(buf))
	}

	vec := make([]float32, dimension)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
