package audio

import goaudio "github.com/go-audio/audio"

// Downmix averages every frame of a multi-channel buffer into one sample.
// Mono input is returned unchanged.
func Downmix(buf *goaudio.Float32Buffer) *goaudio.Float32Buffer {
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 1 {
		return buf
	}
	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := range mono {
		var sum float32
		for _, s := range buf.Data[i*channels : (i+1)*channels] {
			sum += s
		}
		mono[i] = sum / float32(channels)
	}
	return &goaudio.Float32Buffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: buf.Format.SampleRate},
		Data:           mono,
		SourceBitDepth: buf.SourceBitDepth,
	}
}
