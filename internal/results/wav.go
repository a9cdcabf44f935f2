package results

import (
	"encoding/binary"
	"math"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// EncodeWAV converts normalized mono samples to a 16-bit PCM RIFF/WAV file.
// Samples outside [-1,1] are clipped.
func EncodeWAV(samples []float32, rate int) []byte {
	dataSize := len(samples) * bitsPerSample / 8
	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(rate*bitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[32:34], bitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+2*i:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return buf
}
