package media

import (
	"bytes"
	"encoding/binary"
)

// WAVHeader renders a canonical 44-byte RIFF/WAVE header describing a signed
// 16-bit PCM stream with a zero data length. Streaming clients treat the zero
// length as "unknown" and keep reading the raw PCM bytes that follow.
func WAVHeader(channels, sampleRate int) []byte {
	const (
		fmtChunkSize  = 16
		pcmFormat     = 1
		bitsPerSample = audioSampleBytes * 8
	)
	blockAlign := channels * audioSampleBytes
	byteRate := sampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, 44))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36)) // header-only content length
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(fmtChunkSize))
	binary.Write(buf, binary.LittleEndian, uint16(pcmFormat))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(0))
	return buf.Bytes()
}
