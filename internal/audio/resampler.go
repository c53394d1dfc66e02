package audio

import (
	"fmt"
	"math"
	"sync"

	goaudio "github.com/go-audio/audio"
)

// TargetSampleRate is the only rate the recognizer accepts.
const TargetSampleRate = 16000

// Source rates outside [MinSampleRate, MaxSampleRate] are not resampled.
const (
	MinSampleRate = 1000
	MaxSampleRate = 384000
)

const (
	sincLen      = 128
	oversampling = 256
	cutoffRatio  = 0.95
)

// ResamplingError reports input that holds no whole frame for its channel count.
type ResamplingError struct {
	Samples  int
	Channels int
}

func (e *ResamplingError) Error() string {
	return fmt.Sprintf("no audio frames to resample (%d samples across %d channels)", e.Samples, e.Channels)
}

// Resampler converts one channel between two fixed rates with a windowed
// sinc interpolator.
type Resampler struct {
	from  int
	to    int
	ratio float64
	table [][]float32
}

// cachedRates are the source rates whose filter tables are kept for the life
// of the process. Any other rate builds its table per call, so the cache size
// does not depend on caller input.
var cachedRates = map[int]bool{
	8000:  true,
	11025: true,
	12000: true,
	16000: true,
	22050: true,
	24000: true,
	32000: true,
	44100: true,
	48000: true,
	88200: true,
	96000: true,
}

var resamplers sync.Map // map[[2]int]*Resampler

// NewResampler returns a resampler for the given rates. Tables for common
// source rates are shared between calls.
func NewResampler(from, to int) (*Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid resampling rates %d -> %d", from, to)
	}
	key := [2]int{from, to}
	if r, ok := resamplers.Load(key); ok {
		return r.(*Resampler), nil
	}
	ratio := float64(to) / float64(from)
	r := &Resampler{from: from, to: to, ratio: ratio, table: buildSincTable(ratio)}
	if !cachedRates[from] || !cachedRates[to] {
		return r, nil
	}
	actual, _ := resamplers.LoadOrStore(key, r)
	return actual.(*Resampler), nil
}

// ResampledFrames is the aligned output length for frames input frames
// resampled from one rate to another, without building a filter.
func ResampledFrames(frames, from, to int) int64 {
	if from <= 0 {
		return 0
	}
	return int64(math.Round(float64(frames) * float64(to) / float64(from)))
}

// Ratio is the output rate divided by the input rate.
func (r *Resampler) Ratio() float64 { return r.ratio }

// OutputDelay is the number of leading output frames the filter produces
// before the first input frame lines up with time zero.
func (r *Resampler) OutputDelay() int {
	return int(float64(sincLen/2) * r.ratio)
}

// OutputFrames is the aligned output length for a given input length.
func (r *Resampler) OutputFrames(frames int) int {
	return int(math.Round(float64(frames) * r.ratio))
}

// Process runs the filter over one channel and returns the raw output,
// including the leading OutputDelay frames.
func (r *Resampler) Process(in []float32) []float32 {
	delay := r.OutputDelay()
	out := make([]float32, int(math.Ceil(float64(len(in))*r.ratio))+delay)
	half := sincLen / 2
	for k := range out {
		t := float64(k-delay) / r.ratio
		base := math.Floor(t)
		pos := (t - base) * oversampling
		p0 := int(pos)
		if p0 >= oversampling {
			p0 = oversampling - 1
		}
		weight := float32(pos - float64(p0))

		start := int(base) - half + 1
		first, last := 0, sincLen
		if start < 0 {
			first = -start
		}
		if start+last > len(in) {
			last = len(in) - start
		}
		lo, hi := r.table[p0], r.table[p0+1]
		var acc0, acc1 float32
		for n := first; n < last; n++ {
			x := in[start+n]
			acc0 += lo[n] * x
			acc1 += hi[n] * x
		}
		out[k] = acc0 + (acc1-acc0)*weight
	}
	return out
}

// buildSincTable samples the windowed sinc kernel at oversampling+1
// fractional offsets so interpolation can always read row p and p+1.
func buildSincTable(ratio float64) [][]float32 {
	fc := cutoffRatio
	if ratio < 1 {
		fc *= ratio
	}
	half := sincLen / 2
	table := make([][]float32, oversampling+1)
	for p := range table {
		row := make([]float64, sincLen)
		var sum float64
		for n := range row {
			d := float64(n-half+1) - float64(p)/oversampling
			v := fc * sinc(fc*d) * blackmanHarris2((d+float64(half))/sincLen)
			row[n] = v
			sum += v
		}
		out := make([]float32, sincLen)
		for n, v := range row {
			out[n] = float32(v / sum)
		}
		table[p] = out
	}
	return table
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// blackmanHarris2 is the squared four-term Blackman-Harris window over [0, 1].
func blackmanHarris2(x float64) float64 {
	if x < 0 || x > 1 {
		return 0
	}
	w := 0.35875 - 0.48829*math.Cos(2*math.Pi*x) + 0.14128*math.Cos(4*math.Pi*x) - 0.01168*math.Cos(6*math.Pi*x)
	return w * w
}

// Resample converts an interleaved buffer to the target rate. A buffer
// already at the target rate is returned as is. The output is trimmed of the
// filter delay so that frame zero of the result aligns with frame zero of the input.
func Resample(buf *goaudio.Float32Buffer, target int) (*goaudio.Float32Buffer, error) {
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("resample: missing audio format")
	}
	if buf.Format.SampleRate == target {
		return buf, nil
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, &ResamplingError{Samples: len(buf.Data), Channels: channels}
	}
	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, &ResamplingError{Samples: len(buf.Data), Channels: channels}
	}

	r, err := NewResampler(buf.Format.SampleRate, target)
	if err != nil {
		return nil, err
	}

	split := make([][]float32, channels)
	for ch := range split {
		split[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			split[ch][i] = buf.Data[i*channels+ch]
		}
	}

	var wg sync.WaitGroup
	processed := make([][]float32, channels)
	for ch := range split {
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			processed[ch] = r.Process(split[ch])
		}(ch)
	}
	wg.Wait()

	delay := r.OutputDelay()
	end := delay + r.OutputFrames(frames)
	if avail := len(processed[0]); end > avail {
		end = avail
	}
	outFrames := end - delay
	data := make([]float32, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		for ch := 0; ch < channels; ch++ {
			data[i*channels+ch] = processed[ch][delay+i]
		}
	}

	return &goaudio.Float32Buffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: target},
		Data:           data,
		SourceBitDepth: buf.SourceBitDepth,
	}, nil
}
