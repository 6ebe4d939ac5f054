package audio

import "encoding/binary"

// HeaderSize is the byte length of the RIFF/WAVE PCM header produced by
// [NewHeader]. The header is the fixed 44-byte canonical layout: RIFF chunk,
// 16-byte fmt subchunk, data subchunk.
const HeaderSize = 44

// NewHeader builds a standards-compliant RIFF/WAVE PCM header for dataLen
// bytes of raw PCM in the given format. Concatenating the header with the PCM
// bytes yields a playable WAV file.
//
// The RIFF and data length fields are 32-bit; dataLen values at or above
// 2^32-36 wrap on conversion. Streamed clips are far below that bound, so no
// range check is performed.
func NewHeader(dataLen int, f Format) [HeaderSize]byte {
	var h [HeaderSize]byte

	byteRate := uint32(f.BytesPerSecond())
	blockAlign := uint16(f.BlockAlign())

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")

	// fmt subchunk: PCM (audio format 1), 16-byte body.
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitsPerSample))

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))

	return h
}

// FrameWAV wraps raw PCM bytes in a WAV container using format f.
func FrameWAV(pcm []byte, f Format) []byte {
	header := NewHeader(len(pcm), f)
	out := make([]byte, 0, HeaderSize+len(pcm))
	out = append(out, header[:]...)
	out = append(out, pcm...)
	return out
}
