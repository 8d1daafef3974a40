package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// riffHeaderSize is the byte length of the RIFF descriptor preceding the
// first sub-chunk.
const riffHeaderSize = 12

// Info describes the sample format of a WAV payload.
type Info struct {
	SampleRate int // samples per second, e.g. 24000 or 48000
	Channels   int // 1 = mono, 2 = stereo
	Bits       int // bits per sample
}

// EncodeWAV serialises mono 16-bit PCM samples into an uncompressed RIFF/WAVE
// file at the given sample rate.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}

	const (
		channels      = 1
		bitsPerSample = 16
		fmtSize       = 16
	)
	dataSize := len(samples) * 2
	fileSize := 4 + (8 + fmtSize) + (8 + dataSize) // WAVE + fmt chunk + data chunk

	buf := make([]byte, 0, riffHeaderSize+8+fmtSize+8+dataSize)
	le := binary.LittleEndian

	putU32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	putU16 := func(v uint16) {
		var b [2]byte
		le.PutUint16(b[:], v)
		buf = append(buf, b[:]...)
	}

	// RIFF chunk.
	buf = append(buf, []byte("RIFF")...)
	putU32(uint32(fileSize))
	buf = append(buf, []byte("WAVE")...)

	// fmt sub-chunk.
	buf = append(buf, []byte("fmt ")...)
	putU32(fmtSize)
	putU16(1) // PCM format
	putU16(channels)
	putU32(uint32(sampleRate))
	putU32(uint32(sampleRate * channels * bitsPerSample / 8)) // byte rate
	putU16(channels * bitsPerSample / 8)                      // block align
	putU16(bitsPerSample)

	// data sub-chunk.
	buf = append(buf, []byte("data")...)
	putU32(uint32(dataSize))
	for _, s := range samples {
		buf = append(buf, byte(s), byte(s>>8))
	}
	return buf, nil
}

// DecodeWAV parses an uncompressed RIFF/WAVE payload and returns its format
// info and samples. Only 16-bit PCM is supported; stereo data is returned
// interleaved. Walking the sub-chunks rather than assuming a fixed 44-byte
// header tolerates extra chunks (LIST, fact, ...) and odd-size padding.
func DecodeWAV(data []byte) (Info, []int16, error) {
	if len(data) < riffHeaderSize {
		return Info{}, nil, errors.New("audio: WAV data too short to be a valid RIFF file")
	}
	if string(data[0:4]) != "RIFF" {
		return Info{}, nil, errors.New("audio: WAV data missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return Info{}, nil, errors.New("audio: WAV data missing WAVE identifier")
	}

	var (
		info     Info
		foundFmt bool
	)

	// Walk RIFF sub-chunks starting immediately after the 12-byte header.
	offset := riffHeaderSize
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(data) {
				return Info{}, nil, errors.New("audio: WAV fmt chunk truncated")
			}
			fmtData := data[offset+8:]
			audioFormat := int(binary.LittleEndian.Uint16(fmtData[0:2]))
			info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			info.Bits = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			if audioFormat != 1 {
				return Info{}, nil, fmt.Errorf("audio: unsupported WAV format code %d, want PCM", audioFormat)
			}
			if info.Bits != 16 {
				return Info{}, nil, fmt.Errorf("audio: unsupported WAV bit depth %d, want 16", info.Bits)
			}
			if info.Channels < 1 {
				return Info{}, nil, fmt.Errorf("audio: invalid WAV channel count %d", info.Channels)
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return Info{}, nil, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			end := offset + 8 + chunkSize
			if end > len(data) {
				// Some encoders leave a placeholder size; trust the payload.
				end = len(data)
			}
			pcm := data[offset+8 : end]
			samples := make([]int16, len(pcm)/2)
			for i := range samples {
				samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
			}
			return info, samples, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Info{}, nil, errors.New("audio: WAV data missing data chunk")
}
