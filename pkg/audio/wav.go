package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WAV format tags.
const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

// ErrUnsupportedWAV is returned for encodings DecodeWAV cannot read.
var ErrUnsupportedWAV = errors.New("audio: unsupported WAV encoding")

type wavInfo struct {
	Format        int
	Channels      int
	SampleRate    int
	BitsPerSample int
	Data          []byte
}

// DecodeWAV decodes a RIFF/WAVE byte slice holding 16-bit PCM, 24-bit PCM or
// 32-bit IEEE float samples into a Clip.
func DecodeWAV(b []byte) (*Clip, error) {
	info, err := parseWAV(b)
	if err != nil {
		return nil, err
	}
	if info.Channels <= 0 || info.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid WAV format (%d channels, %d Hz)", info.Channels, info.SampleRate)
	}

	var samples []float32
	switch {
	case info.Format == wavFormatPCM && info.BitsPerSample == 16:
		samples = PCM16ToFloat32(info.Data)
	case info.Format == wavFormatPCM && info.BitsPerSample == 24:
		samples = pcm24ToFloat32(info.Data)
	case info.Format == wavFormatIEEEFloat && info.BitsPerSample == 32:
		samples = make([]float32, len(info.Data)/4)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(info.Data[i*4:]))
		}
	default:
		return nil, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedWAV, info.Format, info.BitsPerSample)
	}

	// Drop a trailing partial frame.
	samples = samples[:len(samples)-len(samples)%info.Channels]

	return &Clip{
		Format:  Format{SampleRate: info.SampleRate, Channels: info.Channels},
		Samples: samples,
	}, nil
}

// parseWAV walks the RIFF chunks and returns the format and the data chunk.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("audio: WAV too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("audio: WAV missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("audio: WAV missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(wav) {
				return wavInfo{}, errors.New("audio: WAV fmt chunk truncated")
			}
			f := wav[body:]
			info.Format = int(binary.LittleEndian.Uint16(f[0:2]))
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			// WAVE_FORMAT_EXTENSIBLE carries the real tag in the sub-format GUID.
			if info.Format == wavFormatExtensible && chunkSize >= 40 && body+26 <= len(wav) {
				info.Format = int(binary.LittleEndian.Uint16(f[24:26]))
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return wavInfo{}, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			end := body + chunkSize
			// Streaming encoders write 0 or 0xFFFFFFFF when the length is unknown.
			if chunkSize == 0 || end > len(wav) || end < body {
				end = len(wav)
			}
			info.Data = wav[body:end]
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset = body + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("audio: WAV missing data chunk")
}

// EncodeWAV wraps interleaved float samples in a 16-bit PCM WAV container.
func EncodeWAV(c *Clip) []byte {
	pcm := Float32ToPCM16(c.Samples)
	b := make([]byte, 44+len(pcm))
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], uint32(36+len(pcm)))
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(b[22:24], uint16(c.Channels))
	binary.LittleEndian.PutUint32(b[24:28], uint32(c.SampleRate))
	binary.LittleEndian.PutUint32(b[28:32], uint32(c.SampleRate*c.Channels*2))
	binary.LittleEndian.PutUint16(b[32:34], uint16(c.Channels*2))
	binary.LittleEndian.PutUint16(b[34:36], 16)
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], uint32(len(pcm)))
	copy(b[44:], pcm)
	return b
}
