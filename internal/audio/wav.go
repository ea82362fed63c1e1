package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zaf/g711"
)

// WAV format tags used by the gateway.
const (
	FormatPCM  uint16 = 1 // 16-bit linear PCM
	FormatULaw uint16 = 7 // 8-bit G.711 u-law
)

// HeaderSize is the fixed size of the RIFF/WAVE/fmt /data header this
// gateway produces.
const HeaderSize = 44

// DefaultSampleRate is the telephony sample rate for u-law streams.
const DefaultSampleRate = 8000

// WAVHeader represents the 44-byte header of a canonical WAV file.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM/u-law
	AudioFormat   uint16  // 1 = PCM, 7 = u-law
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data chunk
}

// newHeader builds a fully-formed header from the final payload length.
// Size fields are computed up front, never patched after the fact.
func newHeader(format uint16, bitsPerSample uint16, sampleRate int, dataSize int) WAVHeader {
	numChannels := uint16(1)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   format,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// EncodeULawWAV wraps raw u-law bytes in a pass-through container: a u-law
// tagged header followed by the payload unchanged. A zero-length payload
// yields a valid header-only file.
func EncodeULawWAV(raw []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	header := newHeader(FormatULaw, 8, sampleRate, len(raw))

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(raw)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(raw)

	return buf.Bytes(), nil
}

// EncodePCMWAV expands raw u-law bytes to 16-bit little-endian linear PCM
// via the precomputed G.711 decode table and wraps the result in a
// PCM-tagged container.
func EncodePCMWAV(raw []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	lpcm := g711.DecodeUlaw(raw)
	header := newHeader(FormatPCM, 16, sampleRate, len(lpcm))

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(lpcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(lpcm)

	return buf.Bytes(), nil
}

// DecodeWAV extracts the data chunk and sample rate from a container
// produced by this package. Both PCM and u-law format tags are accepted.
func DecodeWAV(data []byte) ([]byte, *WAVInfo, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return nil, nil, err
	}

	payload := data[HeaderSize:]
	if uint32(len(payload)) < info.DataSize {
		return nil, nil, fmt.Errorf("truncated WAV data: header declares %d bytes, got %d",
			info.DataSize, len(payload))
	}

	return payload[:info.DataSize], info, nil
}

// ValidateWAV checks the container structure without reading the payload.
func ValidateWAV(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	format := binary.LittleEndian.Uint16(data[20:22])
	if format != FormatPCM && format != FormatULaw {
		return fmt.Errorf("unsupported audio format: %d", format)
	}

	return nil
}

// WAVInfo holds container metadata extracted from a header.
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV container.
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	bytesPerSample := uint32(header.BitsPerSample) / 8
	if bytesPerSample == 0 {
		return nil, fmt.Errorf("invalid bits per sample: %d", header.BitsPerSample)
	}

	numSamples := header.Subchunk2Size / bytesPerSample

	return &WAVInfo{
		AudioFormat:   header.AudioFormat,
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}
