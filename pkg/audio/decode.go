package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupported is returned by [Decode] for payloads it cannot decode.
var ErrUnsupported = errors.New("audio: unsupported format")

// Decode sniffs data and decodes it to 16-bit PCM. RIFF/WAVE with integer
// samples and MPEG audio layer III are supported; everything else yields
// [ErrUnsupported].
func Decode(data []byte) (*Buffer, error) {
	switch {
	case isWAV(data):
		return DecodeWAV(data)
	case isMP3(data):
		return DecodeMP3(data)
	}
	return nil, ErrUnsupported
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// isMP3 accepts an ID3v2 tag or a bare MPEG frame sync.
func isMP3(data []byte) bool {
	if len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")) {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// DecodeMP3 decodes a complete MP3 file held in memory. The result is
// always stereo at the stream's sample rate.
func DecodeMP3(data []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("audio: decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("audio: decode mp3: %w", err)
	}
	if len(pcm) < 4 {
		return nil, errors.New("audio: decode mp3: no audio frames")
	}
	if dec.SampleRate() <= 0 {
		return nil, fmt.Errorf("%w: mp3 without sample rate", ErrUnsupported)
	}
	return &Buffer{
		Format: Format{SampleRate: dec.SampleRate(), Channels: 2},
		PCM:    pcm[:len(pcm)&^3],
	}, nil
}

// DecodeWAV decodes a complete WAV file held in memory.
func DecodeWAV(data []byte) (*Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav file", ErrUnsupported)
	}

	ib, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}
	return fromIntBuffer(ib, int(dec.BitDepth))
}

// fromIntBuffer converts decoded integer samples of the given bit depth to
// 16-bit PCM.
func fromIntBuffer(ib *goaudio.IntBuffer, depth int) (*Buffer, error) {
	if ib.Format == nil || ib.Format.NumChannels <= 0 || ib.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: wav header without format", ErrUnsupported)
	}
	switch depth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupported, depth)
	}

	pcm := make([]byte, len(ib.Data)*2)
	for i, v := range ib.Data {
		putSample(pcm, i, to16(v, depth))
	}
	return &Buffer{
		Format: Format{SampleRate: ib.Format.SampleRate, Channels: ib.Format.NumChannels},
		PCM:    pcm,
	}, nil
}

// to16 rescales an integer sample of the given bit depth to int16.
// 8-bit WAV samples are unsigned.
func to16(v, depth int) int16 {
	switch depth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	}
	return int16(v)
}
