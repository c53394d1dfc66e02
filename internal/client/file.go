package client

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
	"github.com/loqalabs/open-transcribe/internal/audio"
)

const wavFormatPCM = 1

// LoadAudioFile reads path as PCM. A WAV file is decoded and its own format
// is returned; any other file is sent as raw PCM in the fallback format.
func LoadAudioFile(path string, fallback Format) ([]byte, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Format{}, fmt.Errorf("audio file not found: %s", path)
		}
		return nil, Format{}, fmt.Errorf("failed to read audio file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, Format{}, fmt.Errorf("failed to read audio file: %w", err)
		}
		return data, fallback, nil
	}

	if dec.WavAudioFormat != wavFormatPCM {
		return nil, Format{}, fmt.Errorf("unsupported WAV encoding %d: only integer PCM is accepted", dec.WavAudioFormat)
	}
	depth, err := audio.ParseBitDepth(int(dec.BitDepth))
	if err != nil {
		return nil, Format{}, err
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode wav: %w", err)
	}
	data, err := audio.EncodeInts(buf.Data, depth)
	if err != nil {
		return nil, Format{}, err
	}
	return data, Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(depth),
	}, nil
}
